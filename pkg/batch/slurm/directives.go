package slurm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Directives はスケジューラに渡すリソース要求です。
// 値は書かれた文字列のまま保持し、書き換えません。
type Directives struct {
	MailUser    string `yaml:"mail-user,omitempty" json:"mail-user,omitempty"`
	MailType    string `yaml:"mail-type,omitempty" json:"mail-type,omitempty"`
	Time        string `yaml:"time,omitempty" json:"time,omitempty"`
	CpusPerTask string `yaml:"cpus-per-task,omitempty" json:"cpus-per-task,omitempty"`
	MemPerCPU   string `yaml:"mem-per-cpu,omitempty" json:"mem-per-cpu,omitempty"`
	JobName     string `yaml:"job-name,omitempty" json:"job-name,omitempty"`
}

// Directive は `#SBATCH --key=value` 1 行分です。
type Directive struct {
	Key   string
	Value string
}

// Pairs は空でないディレクティブを mail-user, mail-type, time, cpus-per-task, mem-per-cpu, job-name の順で返します。
func (d Directives) Pairs() []Directive {
	all := []Directive{
		{Key: "mail-user", Value: d.MailUser},
		{Key: "mail-type", Value: d.MailType},
		{Key: "time", Value: d.Time},
		{Key: "cpus-per-task", Value: d.CpusPerTask},
		{Key: "mem-per-cpu", Value: d.MemPerCPU},
		{Key: "job-name", Value: d.JobName},
	}
	pairs := make([]Directive, 0, len(all))
	for _, p := range all {
		if p.Value != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

var (
	timePattern = regexp.MustCompile(`^(\d+-)?\d{1,2}:\d{2}:\d{2}$`)
	memPattern  = regexp.MustCompile(`^\d+[KMGT]?$`)

	mailTypes = map[string]struct{}{
		"none": {}, "begin": {}, "end": {}, "fail": {}, "abort": {}, "requeue": {}, "all": {},
	}
)

// Validate は書式だけを確認します。値は変更しません。mail-user は確認しません。
func (d Directives) Validate() error {
	var errs []error
	for _, p := range d.Pairs() {
		if strings.ContainsAny(p.Value, "\r\n") {
			errs = append(errs, fmt.Errorf("%s: value must not contain a newline", p.Key))
		}
	}

	if d.MailType != "" {
		for _, t := range strings.Split(d.MailType, ",") {
			if _, ok := mailTypes[strings.ToLower(strings.TrimSpace(t))]; !ok {
				errs = append(errs, fmt.Errorf("mail-type: unknown value %q", t))
			}
		}
	}
	if d.Time != "" && !timePattern.MatchString(d.Time) {
		errs = append(errs, fmt.Errorf("time: %q is not [D-]HH:MM:SS", d.Time))
	}
	if d.CpusPerTask != "" {
		if n, err := strconv.Atoi(d.CpusPerTask); err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("cpus-per-task: %q is not a positive integer", d.CpusPerTask))
		}
	}
	if d.MemPerCPU != "" && !memPattern.MatchString(d.MemPerCPU) {
		errs = append(errs, fmt.Errorf("mem-per-cpu: %q is not <integer>[K|M|G|T]", d.MemPerCPU))
	}
	return errors.Join(errs...)
}
