package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/ui"
)

func runsCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "最近的任务执行记录",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
		},
		Action: func(c *cli.Context) error {
			db, err := a.openStore(false)
			if err != nil {
				return err
			}
			runs, err := db.ListTaskRuns(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Println(ui.Runs(runs))
			return nil
		},
	}
}
