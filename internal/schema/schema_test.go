package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTree() *cobra.Command {
	root := &cobra.Command{Use: "spoke"}
	root.PersistentFlags().Bool("json", false, "output json")
	group := &cobra.Command{Use: "collateral", Short: "collateral cmds"}
	leaf := &cobra.Command{
		Use:         "enable",
		Short:       "enable collateral",
		Annotations: map[string]string{AnnotationSigns: "true"},
		RunE:        func(*cobra.Command, []string) error { return nil },
	}
	leaf.Flags().String("reserve", "", "reserve id")
	leaf.Flags().Bool("yes", false, "skip confirmation")
	_ = leaf.MarkFlagRequired("reserve")
	group.AddCommand(leaf)
	root.AddCommand(group)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(newTree(), "collateral enable")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "spoke collateral enable" || !s.Signs {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 2 || s.Flags[0].Name != "reserve" || !s.Flags[0].Required || s.Flags[1].Required {
		t.Fatalf("expected required flags first, got %+v", s.Flags)
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Name != "json" {
		t.Fatalf("unexpected global flags: %+v", s.GlobalFlags)
	}
}

func TestBuildSchemaUnknownCommand(t *testing.T) {
	if _, err := Build(newTree(), "collateral toggle"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestBuildSchemaRootListsGroups(t *testing.T) {
	s, err := Build(newTree(), "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(s.Subcommands) != 1 || s.Subcommands[0].Subcommands[0].Use != "enable" {
		t.Fatalf("unexpected subcommands: %+v", s.Subcommands)
	}
}
