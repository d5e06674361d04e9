// File: internal/senza/types.go
// Brief: Records decoded from senza JSON output.

package senza

import (
	"fmt"
	"strconv"
	"strings"
)

// Stack is one row of `senza list -o json`.
type Stack struct {
	StackName   string `json:"stack_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// ID returns the CloudFormation stack name, e.g. "hello-world-42".
func (s Stack) ID() string {
	return StackID(s.StackName, s.Version)
}

// StackID joins a stack name and version the way senza names CloudFormation stacks.
func StackID(stackName, stackVersion string) string {
	if stackVersion == "" {
		return stackName
	}
	return stackName + "-" + stackVersion
}

// Record is a loosely typed row of senza output. Domains and traffic
// weights are only tested for presence, so their columns stay untyped.
type Record map[string]any

// Str returns the string form of a column, or "" when the column is missing.
func (r Record) Str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Domain is a Route53 record associated with a stack.
type Domain = Record

// TrafficWeight is one line of the weight distribution returned by `senza traffic`.
type TrafficWeight = Record
