// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/regq/internal/ui"
	"github.com/urfave/cli/v3"
)

// globalFlags are accepted by every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("REGQ_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "catalogue",
			Usage:   "Catalogue URL (http(s)://host/api/v1 or sqlite:///path/to.db)",
			Sources: cli.EnvVars("REGQ_CATALOGUE_URL"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Catalogue bearer token",
			Sources: cli.EnvVars("REGQ_CATALOGUE_TOKEN"),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error)",
			Value: "info",
		},
	}
}

// workerCommand runs a worker for one action.
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "worker",
		Usage:     "Lease and execute queued tasks of one action",
		ArgsUsage: "ACTION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "destination",
				Usage: "Only take transfers to this platform (defaults to workers.transfer-dataset.destination)",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "Only take deletions on this platform (defaults to workers.delete-dataset.platform)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Only take transfers from this platform",
			},
			&cli.StringFlag{
				Name:  "target-dir",
				Usage: "Directory datasets are transferred into",
			},
			&cli.StringFlag{
				Name:  "published-target-dir",
				Usage: "Path registered in the catalogue for transferred datasets",
			},
			&cli.BoolFlag{
				Name:  "no-auto-register",
				Usage: "Do not register transferred datasets in the catalogue",
			},
			&cli.IntFlag{
				Name:  "threads",
				Usage: "Parallel file copies per transfer",
			},
			&cli.StringSliceFlag{
				Name:  "request",
				Usage: "Extra exact-match task field, key=value (repeatable)",
			},
			&cli.IntFlag{
				Name:  "wait",
				Usage: "Seconds to sleep between empty polls",
			},
			&cli.IntFlag{
				Name:  "heartbeat",
				Usage: "Seconds between lease heartbeats",
			},
			&cli.IntFlag{
				Name:  "max-no-heartbeat",
				Usage: "Reclaim running tasks without a heartbeat for this many seconds (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "loop",
				Usage: "Keep polling instead of processing at most one task",
			},
			&cli.BoolFlag{
				Name:  "check-todo",
				Usage: "Exit 0 when there is work and 1 when there is none, without leasing",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Exit with status 2 after this many seconds (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log queue and catalogue writes instead of sending them",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Worker id recorded in the lease (random when empty)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to a rotated file instead of stderr",
			},
		},
		Action: r.Worker,
	}
}

// tasksCommand handles queue inspection and manual lease operations.
func tasksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tasks",
		Aliases: []string{"t"},
		Usage:   "Inspect and manipulate the task queue",
		Commands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "Queue a task",
				ArgsUsage: "ACTION key=value...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.TasksNew,
			},
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List tasks matching key=value filters",
				ArgsUsage: "[key=value...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only tasks with this status (queued, running)"},
					&cli.StringFlag{Name: "sort", Usage: "Sort by created or updated", Value: "updated"},
					&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "Include owner and fields"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "table, json, csv or markdown", Value: "table"},
				},
				Action: r.TasksList,
			},
			{
				Name:      "take-one",
				Usage:     "Lease the most recently updated queued task matching the filters",
				ArgsUsage: "[key=value...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Worker id recorded in the lease", Value: "cli"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.TasksTakeOne,
			},
			{
				Name:      "own",
				Usage:     "Lease a queued task",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Worker id recorded in the lease", Value: "cli"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.TasksOwn,
			},
			{
				Name:      "disown",
				Usage:     "Release a running task back to the queue",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.TasksDisown,
			},
			{
				Name:      "set-progress",
				Usage:     "Record a percentage on a task",
				ArgsUsage: "ID PERCENT",
				Action:    r.TasksSetProgress,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a task",
				ArgsUsage: "ID",
				Action:    r.TasksDelete,
			},
			{
				Name:      "delete-many",
				Usage:     "Delete every task matching the filters",
				ArgsUsage: "key=value...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only tasks with this status (queued, running)"},
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Delete without listing first"},
				},
				Action: r.TasksDeleteMany,
			},
			{
				Name:      "watch",
				Usage:     "Interactive dashboard of queued and running tasks",
				ArgsUsage: "[key=value...]",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "Polling interval", Value: ui.DefaultInterval},
					&cli.StringFlag{Name: "log-file", Usage: "Log file while the dashboard owns the terminal", Value: "./tmp/regq-watch.log"},
				},
				Action: r.TasksWatch,
			},
		},
	}
}

// datasetsCommand edits dataset locations in the catalogue.
func datasetsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "datasets",
		Aliases: []string{"ds"},
		Usage:   "Inspect and edit dataset locations",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show a dataset and its locations",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.DatasetsGet,
			},
			{
				Name:      "create",
				Usage:     "Register a dataset without locations",
				ArgsUsage: "NAME",
				Action:    r.DatasetsCreate,
			},
			{
				Name:      "add-location",
				Usage:     "Record where a dataset lives on a platform",
				ArgsUsage: "NAME PLATFORM PATH",
				Action:    r.DatasetsAddLocation,
			},
			{
				Name:      "remove-location",
				Usage:     "Forget a dataset's location on a platform",
				ArgsUsage: "NAME PLATFORM",
				Action:    r.DatasetsRemoveLocation,
			},
		},
	}
}

// serveCommand runs the catalogue HTTP server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the catalogue over HTTP from the configured database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Listen host (defaults to server.host)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (defaults to server.port)"},
			&cli.StringFlag{Name: "db", Usage: "Database path (defaults to database.path)"},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for configuration and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example configuration file to --config",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "Roll back the most recent migration instead"},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// apiCommand handles raw catalogue requests.
func apiCommand(r *Runner) *cli.Command {
	pathArg := []cli.Argument{&cli.StringArg{Name: "path"}}
	return &cli.Command{
		Name:  "api",
		Usage: "Raw requests against an HTTP catalogue, for debugging",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "GET a catalogue path and print the response",
				Arguments: pathArg,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output compact JSON"},
				},
				Action: r.APIGet,
			},
			{
				Name:      "post",
				Usage:     "POST a JSON document",
				Arguments: pathArg,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON body to send", Required: true},
				},
				Action: r.APIPost,
			},
			{
				Name:      "patch",
				Usage:     "PATCH with a JSON Patch array",
				Arguments: pathArg,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON Patch operations", Required: true},
				},
				Action: r.APIPatch,
			},
			{
				Name:      "delete",
				Usage:     "DELETE a catalogue path",
				Arguments: pathArg,
				Action:    r.APIDelete,
			},
		},
	}
}
