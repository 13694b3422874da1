package app

import "fmt"

// Command selects what the binary does.
type Command string

const (
	// CommandServe starts the HTTP API.
	CommandServe Command = "serve"
	// CommandMigrate applies pending schema migrations and exits.
	CommandMigrate Command = "migrate"
	// CommandHashKey prints an argon2id hash for COUNSELLING_API_KEY_HASH.
	CommandHashKey Command = "hash-key"
	// CommandSyncCounsellors upserts a counsellor directory snapshot.
	CommandSyncCounsellors Command = "sync-counsellors"
)

// Invocation is a parsed command line.
type Invocation struct {
	Command Command
	// Arg is the key for hash-key and the snapshot path for sync-counsellors.
	Arg string
}

// ParseCommand reads the subcommand from args (os.Args[1:]). No arguments
// means serve.
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandMigrate:
		return Invocation{Command: cmd}, nil
	case CommandHashKey, CommandSyncCounsellors:
		if len(args) < 2 || args[1] == "" {
			return Invocation{}, fmt.Errorf("%s requires an argument", cmd)
		}
		return Invocation{Command: cmd, Arg: args[1]}, nil
	default:
		return Invocation{}, fmt.Errorf("unknown command %q (expected serve, migrate, hash-key or sync-counsellors)", args[0])
	}
}
