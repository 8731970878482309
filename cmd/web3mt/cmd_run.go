package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/tasks"
	"github.com/web3mt/web3mt/internal/ui"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "run-id", Usage: "复用之前的 run id（提币等步骤按 run id 幂等）"},
		&cli.IntFlag{Name: "concurrency", Usage: "覆盖计划里的并发数"},
		&cli.BoolFlag{Name: "skip-done", Usage: "跳过已成功的步骤"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "不确认直接执行"},
	}
}

func runCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "按计划文件对一批 profile 执行任务",
		ArgsUsage: "<plan.yaml>",
		Flags:     runFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: web3mt run <plan.yaml>")
			}
			plan, err := tasks.LoadPlan(c.Args().First())
			if err != nil {
				return err
			}
			return a.runPlan(c, plan, plan.Steps)
		},
	}
}

func menuCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "menu",
		Usage:     "交互选择计划和要执行的步骤",
		ArgsUsage: "[plan.yaml]",
		Flags: append(runFlags(),
			&cli.StringFlag{Name: "plans", Value: "plans", Usage: "计划文件目录"},
		),
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				var err error
				if path, err = pickPlanFile(c.String("plans")); err != nil {
					return err
				}
			}
			plan, err := tasks.LoadPlan(path)
			if err != nil {
				return err
			}
			items := make([]ui.Item, len(plan.Steps))
			for i, s := range plan.Steps {
				items[i] = ui.Item{Title: fmt.Sprintf("%d. %s", i+1, s.Label()), Detail: describeParams(s.Params)}
			}
			idx, err := ui.Pick(fmt.Sprintf("%s：选择要执行的步骤", planName(plan, path)), items, true)
			if err != nil {
				return err
			}
			steps := make([]tasks.Step, 0, len(idx))
			for _, i := range idx {
				steps = append(steps, plan.Steps[i])
			}
			return a.runPlan(c, plan, steps)
		},
	}
}

func planName(p *tasks.Plan, path string) string {
	if p.Name != "" {
		return p.Name
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func pickPlanFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("读取计划目录 %s 失败: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return "", fmt.Errorf("no plan files in %s", dir)
	}
	items := make([]ui.Item, len(files))
	for i, f := range files {
		items[i] = ui.Item{Title: f}
	}
	idx, err := ui.Pick("选择计划", items, false)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, files[idx[0]]), nil
}

func describeParams(p tasks.Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}

func (a *app) runPlan(c *cli.Context, plan *tasks.Plan, steps []tasks.Step) error {
	reg := tasks.Builtin()
	if err := plan.Validate(reg); err != nil {
		return err
	}
	if len(steps) == 0 {
		return errors.New("no steps selected")
	}
	db, err := a.openStore(true)
	if err != nil {
		return err
	}
	profiles, err := a.selectProfiles(c.Context, db, plan.Profiles.Filter())
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return errors.New("plan selects no profiles")
	}
	deps, err := a.taskDeps(db)
	if err != nil {
		return err
	}

	lo, hi := a.cfg.Delay.Range()
	r := &tasks.Runner{
		Registry:    reg,
		Deps:        deps,
		Recorder:    db,
		Concurrency: a.cfg.Concurrency,
		DelayMin:    lo,
		DelayMax:    hi,
		SkipDone:    c.Bool("skip-done"),
		Observe:     a.metrics.ObserveTask,
	}
	r.ForPlan(plan)
	if n := c.Int("concurrency"); n > 0 {
		r.Concurrency = n
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
	}
	if !c.Bool("yes") {
		names := make([]string, len(steps))
		for i, s := range steps {
			names[i] = s.Label()
		}
		ok, err := ui.Confirm(fmt.Sprintf("run %s: %d 个 profile × [%s]，确认执行？", runID, len(profiles), strings.Join(names, ", ")))
		if err != nil {
			return err
		}
		if !ok {
			return ui.ErrAborted
		}
	}

	sum, err := r.Run(c.Context, runID, profiles, steps)
	if sum != nil {
		fmt.Println(ui.Summary(sum))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("run %s 被中断，可用 --run-id %s 继续", runID, runID)
		}
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("run %s: %d 个步骤失败", runID, sum.Failed)
	}
	return nil
}
