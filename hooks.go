package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const zshHook = `shlog_begin() {
    export SHLOG_LOGFILE=$(%[1]s start -- "$1")
}
shlog_end() {
    %[1]s end -- "$SHLOG_LOGFILE"
    unset SHLOG_LOGFILE
}
typeset -Uga preexec_functions
typeset -Uga precmd_functions
preexec_functions+=shlog_begin
precmd_functions+=shlog_end
`

// bash has no preexec: the DEBUG trap fires before every simple command,
// PROMPT_COMMAND entries included. __shlog_arm runs last in PROMPT_COMMAND,
// so only the first command read after a prompt finds the shell armed. A
// prompt reached without running anything disarms on __shlog_end instead of
// starting a session, and __shlog_end only ends a session that was started.
const bashHook = `__shlog_at_prompt=
__shlog_running=
__shlog_begin() {
    [ -n "$COMP_LINE" ] && return
    [ -z "$__shlog_at_prompt" ] && return
    __shlog_at_prompt=
    case "$BASH_COMMAND" in __shlog_end*) return ;; esac
    __shlog_running=1
    export SHLOG_LOGFILE=$(%[1]s start -- "$(HISTTIMEFORMAT= history 1 | sed 's/^ *[0-9]* *//')")
}
__shlog_end() {
    [ -z "$__shlog_running" ] && return
    __shlog_running=
    %[1]s end -- "$SHLOG_LOGFILE"
    unset SHLOG_LOGFILE
}
__shlog_arm() {
    __shlog_at_prompt=1
}
trap '__shlog_begin' DEBUG
PROMPT_COMMAND="__shlog_end${PROMPT_COMMAND:+; $PROMPT_COMMAND}; __shlog_arm"
`

var hooks = map[string]string{
	"zsh":  zshHook,
	"bash": bashHook,
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "init zsh|bash",
		Short:     "Print the shell hooks that drive start and end",
		Example:   `  eval "$(shlog init zsh)"`,
		ValidArgs: []string{"zsh", "bash"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, hooks[args[0]], a.cfg.SelfName)
			return nil
		},
	}
}
