package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/internal/portfolio"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/internal/tasks"
	"github.com/web3mt/web3mt/pkg/cex"
)

func usd(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func shortAddr(a string) string {
	if len(a) <= 14 {
		return a
	}
	return a[:8] + "…" + a[len(a)-4:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Balances 余额明细 + 按 token / 链汇总
func Balances(r *portfolio.Report, showZero bool) string {
	detail := &Table{
		Title:   fmt.Sprintf("Balances @ %s", r.At.Format("2006-01-02 15:04:05")),
		Headers: []string{"PROFILE", "CHAIN", "TOKEN", "ADDRESS", "AMOUNT", "USD"},
		Right:   map[int]bool{4: true, 5: true},
	}
	for _, e := range r.Entries {
		switch {
		case e.Err != nil:
			detail.Row(e.ProfileID, e.Chain, e.Token, shortAddr(e.Address), errStyle.Render("error"), errStyle.Render(truncate(e.Err.Error(), 40)))
		case e.Amount.IsZero() && !showZero:
		case !e.Priced:
			detail.Row(e.ProfileID, e.Chain, e.Token, shortAddr(e.Address), e.Amount.Decimal().String(), warnStyle.Render("n/a"))
		default:
			detail.Row(e.ProfileID, e.Chain, e.Token, shortAddr(e.Address), e.Amount.Decimal().String(), usd(e.USD))
		}
	}
	detail.Footer("TOTAL", "", "", "", "", usd(r.Total))

	byToken := &Table{Title: "By token", Headers: []string{"TOKEN", "AMOUNT", "USD"}, Right: map[int]bool{1: true, 2: true}}
	for _, sym := range sortedKeys(r.ByToken) {
		t := r.ByToken[sym]
		if t.Amount.IsZero() && !showZero {
			continue
		}
		byToken.Row(sym, t.Amount.String(), usd(t.USD))
	}
	byChain := &Table{Title: "By chain", Headers: []string{"CHAIN", "USD"}, Right: map[int]bool{1: true}}
	for _, c := range sortedKeys(r.ByChain) {
		if r.ByChain[c].IsZero() && !showZero {
			continue
		}
		byChain.Row(c, usd(r.ByChain[c]))
	}

	out := []string{detail.String(), "", byToken.String(), "", byChain.String()}
	if r.Failed > 0 {
		out = append(out, "", errStyle.Render(fmt.Sprintf("%d 项查询失败", r.Failed)))
	}
	return strings.Join(out, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Profiles profile 列表；wallets 为空时不显示地址列
func Profiles(ps []*store.Profile, wallets map[string][]store.Wallet) string {
	t := &Table{Title: fmt.Sprintf("Profiles (%d)", len(ps)), Headers: []string{"ID", "IDX", "LABEL", "TAGS", "PROXY", "WALLETS"}}
	for _, p := range ps {
		var ws []string
		for _, w := range wallets[p.ID] {
			ws = append(ws, fmt.Sprintf("%s:%s", w.Kind, shortAddr(w.Address)))
		}
		proxy := "-"
		if p.Proxy != "" {
			proxy = maskProxy(p.Proxy)
		}
		t.Row(p.ID, fmt.Sprint(p.Index), p.Label, strings.Join(p.Tags, ","), proxy, strings.Join(ws, " "))
	}
	return t.String()
}

// maskProxy 隐藏代理密码
func maskProxy(p string) string {
	scheme, rest, ok := strings.Cut(p, "://")
	if !ok {
		rest, scheme = p, ""
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return p
	}
	user, _, _ := strings.Cut(creds, ":")
	out := user + ":***@" + host
	if scheme != "" {
		out = scheme + "://" + out
	}
	return out
}

// Profile 单个 profile 详情
func Profile(p *store.Profile, ws []store.Wallet, latest []store.BalanceSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  #%d  %s\n", titleStyle.Render(p.ID), p.Index, p.Label)
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "tags:  %s\n", strings.Join(p.Tags, ", "))
	}
	if p.Proxy != "" {
		fmt.Fprintf(&b, "proxy: %s\n", maskProxy(p.Proxy))
	}
	if p.Note != "" {
		fmt.Fprintf(&b, "note:  %s\n", p.Note)
	}

	wt := &Table{Title: "Wallets", Headers: []string{"KIND", "ADDRESS", "PATH"}}
	for _, w := range ws {
		wt.Row(string(w.Kind), w.Address, w.Path)
	}
	b.WriteString(wt.String())

	if len(p.Deposits) > 0 {
		dt := &Table{Title: "CEX deposit addresses", Headers: []string{"EXCHANGE:NETWORK", "ADDRESS"}}
		for _, k := range sortedKeys(p.Deposits) {
			dt.Row(k, p.Deposits[k])
		}
		b.WriteString("\n\n" + dt.String())
	}
	if len(latest) > 0 {
		bt := &Table{Title: "Last balances", Headers: []string{"CHAIN", "TOKEN", "AMOUNT", "USD", "AT"}, Right: map[int]bool{2: true, 3: true}}
		for _, s := range latest {
			bt.Row(s.Chain, s.Token, s.Amount.String(), usd(s.USD), s.At.Local().Format("01-02 15:04"))
		}
		b.WriteString("\n\n" + bt.String())
	}
	return b.String()
}

func okCell(ok *bool) string {
	switch {
	case ok == nil:
		return warnStyle.Render("running")
	case *ok:
		return okStyle.Render("ok")
	default:
		return errStyle.Render("failed")
	}
}

// Runs 最近的任务执行记录
func Runs(runs []store.TaskRun) string {
	t := &Table{Title: "Task runs", Headers: []string{"ID", "RUN", "TASK", "PROFILE", "STARTED", "TOOK", "STATUS", "DETAIL"}}
	for _, r := range runs {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		detail := r.Result
		if r.Error != "" {
			detail = r.Error
		}
		t.Row(fmt.Sprint(r.ID), r.RunID, r.Task, r.ProfileID, r.StartedAt.Local().Format("01-02 15:04:05"), took, okCell(r.OK), truncate(detail, 60))
	}
	return t.String()
}

// Summary 一次 run 的结果
func Summary(s *tasks.Summary) string {
	t := &Table{Title: "Run " + s.RunID, Headers: []string{"PROFILE", "STEP", "STATUS", "TOOK", "DETAIL"}}
	for _, r := range s.Results {
		status, detail := okStyle.Render("ok"), r.Result
		switch {
		case r.Skipped:
			status = dimStyle.Render("skipped")
		case r.Err != nil:
			status, detail = errStyle.Render("failed"), r.Err.Error()
		}
		t.Row(r.ProfileID, r.Step, status, r.Elapsed.Round(time.Millisecond).String(), truncate(detail, 70))
	}
	t.Footer("", "", fmt.Sprintf("ok %d / failed %d / skipped %d", s.OK, s.Failed, s.Skipped))
	return t.String()
}

// CEXBalances 交易所余额，隐藏零余额
func CEXBalances(exchange string, bs []cex.Balance) string {
	t := &Table{Title: exchange, Headers: []string{"COIN", "FREE", "LOCKED"}, Right: map[int]bool{1: true, 2: true}}
	sort.Slice(bs, func(i, j int) bool { return bs[i].Coin < bs[j].Coin })
	for _, b := range bs {
		if b.Total().IsZero() {
			continue
		}
		t.Row(b.Coin, b.Free.String(), b.Locked.String())
	}
	return t.String()
}

// Withdrawals 提币记录
func Withdrawals(recs []tasks.WithdrawRecord) string {
	t := &Table{Title: "Withdrawals", Headers: []string{"PROFILE", "STEP", "EXCHANGE", "AMOUNT", "NETWORK", "TO", "STATE", "ID", "TX"}, Right: map[int]bool{3: true}}
	for _, r := range recs {
		state := r.State
		switch state {
		case cex.WithdrawalCompleted.String():
			state = okStyle.Render(state)
		case cex.WithdrawalFailed.String():
			state = errStyle.Render(state)
		default:
			state = warnStyle.Render(state)
		}
		t.Row(r.Profile, r.Step, r.Exchange, r.Amount+" "+r.Coin, r.Network, shortAddr(r.Address), state, r.ID, shortAddr(r.TxID))
	}
	return t.String()
}
