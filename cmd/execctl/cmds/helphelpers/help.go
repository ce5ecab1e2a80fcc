package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare hides the flags that cobra parses for cmd but that have no
// effect on it, before its usage is printed.
//
// Every flag lives on the root command so that, for example,
//
//	execctl --record events prog.yml
//
// parses even though --record means nothing to 'events'.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "execctl", "help", "log", "version":
		hideAllFlags(cmd)
	case "events":
		hideFlag(cmd, "record")
		hideFlag(cmd, "init")
	case "run":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
