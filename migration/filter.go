package migration

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/netprefs/network"
)

// ServiceInfo is the environment a filter expression is evaluated against.
type ServiceInfo struct {
	ID      string
	Name    string
	Type    string
	SubType string
	Device  string
	Enabled bool
	Sets    []string
	Mapped  bool
}

func compileFilter(expression string) (*vm.Program, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(ServiceInfo{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return program, nil
}

func newServiceInfo(service *network.Service, m Mappings) ServiceInfo {
	info := ServiceInfo{
		ID:      service.ID(),
		Name:    service.Name(),
		Enabled: service.Enabled(),
		Sets:    append([]string(nil), m.ServiceSets[service.ID()]...),
	}
	if iface := service.Interface(); iface != nil {
		info.Type = iface.Type()
		info.SubType = iface.SubType()
		info.Device = iface.DeviceName()
	}
	for _, set := range info.Sets {
		if _, ok := m.Sets[set]; ok {
			info.Mapped = true
			break
		}
	}
	return info
}

func (e *Engine) selects(service *network.Service, m Mappings) (bool, error) {
	if e.filter == nil {
		return true, nil
	}
	out, err := vm.Run(e.filter, newServiceInfo(service, m))
	if err != nil {
		return false, fmt.Errorf("filter service %s: %w", service.ID(), err)
	}
	selected, _ := out.(bool)
	return selected, nil
}
