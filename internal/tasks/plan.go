package tasks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/web3mt/web3mt/internal/store"
)

// Plan 一次批量执行的配置文件
//
//	name: arb-warmup
//	profiles: {tag: batch1}
//	concurrency: 4
//	shuffle: true
//	delay: {min: 30, max: 120}
//	skip_done: true
//	steps:
//	  - task: cex-withdraw
//	    params: {exchange: okx, chain: Arbitrum, amount: "0.01-0.02"}
//	  - task: self-transfer
//	    params: {chain: Arbitrum}
type Plan struct {
	Name        string          `yaml:"name"`
	Profiles    ProfileSelector `yaml:"profiles"`
	Concurrency int             `yaml:"concurrency"`
	Shuffle     bool            `yaml:"shuffle"`
	Delay       DelayRange      `yaml:"delay"`
	SkipDone    bool            `yaml:"skip_done"`
	Steps       []Step          `yaml:"steps"`
}

// ProfileSelector 选择 profile：ids 优先，其次 tag，all 为全部
type ProfileSelector struct {
	IDs []string `yaml:"ids"`
	Tag string   `yaml:"tag"`
	All bool     `yaml:"all"`
}

// Filter 转换为存储层过滤条件
func (s ProfileSelector) Filter() store.Filter {
	return store.Filter{IDs: s.IDs, Tag: s.Tag}
}

// DelayRange profile 之间的随机间隔（秒）
type DelayRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Step 计划中的一步
type Step struct {
	Task   string `yaml:"task"`
	Name   string `yaml:"name"`
	Params Params `yaml:"params"`
	// ContinueOnError 失败后继续执行该 profile 的后续步骤
	ContinueOnError bool `yaml:"continue_on_error"`
}

// Label 展示用名称
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Task
}

// LoadPlan 读取 YAML 计划文件
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取计划文件失败: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan 解析 YAML
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("解析计划文件失败: %w", err)
	}
	for i := range p.Steps {
		if p.Steps[i].Params == nil {
			p.Steps[i].Params = Params{}
		}
	}
	return &p, nil
}

// Validate 检查任务名和基本参数
func (p *Plan) Validate(reg *Registry) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Name)
	}
	if !p.Profiles.All && len(p.Profiles.IDs) == 0 && p.Profiles.Tag == "" {
		return fmt.Errorf("plan %q selects no profiles (set ids, tag or all)", p.Name)
	}
	if p.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	if p.Delay.Min < 0 || (p.Delay.Max != 0 && p.Delay.Max < p.Delay.Min) {
		return fmt.Errorf("invalid delay %v-%v", p.Delay.Min, p.Delay.Max)
	}
	var errs []string
	for i, s := range p.Steps {
		if _, err := reg.Get(s.Task); err != nil {
			errs = append(errs, fmt.Sprintf("step %d: %v", i+1, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
