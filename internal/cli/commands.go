package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/streamsup/internal/cliutil"
	"github.com/Paintersrp/streamsup/internal/ffmpeg"
)

func newCommandsCmd(ctx *context) *cobra.Command {
	var stream streamFlags
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Print the encoder command lines run would launch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig(stream.apply(cmd))
			if err != nil {
				return err
			}
			cmds, err := ffmpeg.Build(cfg.Settings())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range cmds {
				fmt.Fprintf(out, "%s: %s\n", c.Name, shellJoin(cliutil.RedactArgs(c.Argv())))
			}
			return nil
		},
	}
	stream.register(cmd)
	return cmd
}

func shellJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t\"'\\$") {
			parts[i] = strconv.Quote(arg)
			continue
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
