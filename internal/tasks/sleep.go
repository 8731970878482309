package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sleep 步骤之间随机等待，seconds: "30-120"
type Sleep struct{}

func (Sleep) Name() string { return "sleep" }

func (Sleep) Run(ctx context.Context, env *Env) error {
	lo, hi, err := parseSeconds(env.Params.String("seconds", "5-15"))
	if err != nil {
		return err
	}
	d := lo
	if hi > lo {
		d += time.Duration(env.Rand.Int63n(int64(hi - lo)))
	}
	env.Log.Debugf("等待 %s", d.Round(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return nil
}

func parseSeconds(s string) (time.Duration, time.Duration, error) {
	a, b, isRange := strings.Cut(s, "-")
	lo, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil || lo < 0 {
		return 0, 0, fmt.Errorf("invalid seconds %q", s)
	}
	hi := lo
	if isRange {
		if hi, err = strconv.ParseFloat(strings.TrimSpace(b), 64); err != nil || hi < lo {
			return 0, 0, fmt.Errorf("invalid seconds %q", s)
		}
	}
	return time.Duration(lo * float64(time.Second)), time.Duration(hi * float64(time.Second)), nil
}
