package migrate

import (
	"strings"
	"testing"

	"github.com/sandeepkv93/email-auth-api/internal/config"
)

func TestStatusDetails(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: config.DatabaseDriverSQLite}
	upToDate := statusDetails(cfg, nil)
	if upToDate[len(upToDate)-1] != "migrations: up to date" {
		t.Fatalf("unexpected details %v", upToDate)
	}
	pending := statusDetails(cfg, []string{"users"})
	if !strings.Contains(pending[len(pending)-1], "users") {
		t.Fatalf("expected pending table listed, got %v", pending)
	}
}

func TestPlanDetails(t *testing.T) {
	if got := planDetails(nil); got[0] != "nothing to apply" {
		t.Fatalf("unexpected plan %v", got)
	}
	got := planDetails([]string{"users"})
	if len(got) != 2 || got[0] != "would create table users" {
		t.Fatalf("unexpected plan %v", got)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"up", "status", "plan"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Fatalf("missing subcommand %s", name)
		}
	}
	if cmd.PersistentFlags().Lookup("ci") == nil || cmd.PersistentFlags().Lookup("env-file") == nil {
		t.Fatal("expected shared flags")
	}
}
