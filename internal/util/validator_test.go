// Copyright 2022 SAP SE or an SAP affiliate company
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"testing"

	"github.com/alexandrekaihara/lft/api/topology"
	. "github.com/onsi/gomega"
)

func TestMustNotBeEmpty(t *testing.T) {
	g := NewWithT(t)
	tests := []struct {
		key    string
		value  interface{}
		result bool
	}{
		{"", nil, false},
		{"k1", "  ", false},
		{"k2", "valid-value", true},
		{"k3", []string{}, false},
		{"k4", []string{"bingo"}, true},
		{"k5", map[string]string{}, false},
		{"k6", map[string]string{"bingo": "tringo"}, true},
		{"k7", struct{ name string }{name: "bingo"}, false},
	}

	for _, entry := range tests {
		v := Validator{}
		actualResult := v.MustNotBeEmpty(entry.key, entry.value)
		g.Expect(entry.result).To(Equal(actualResult))
		if !actualResult {
			g.Expect(v.Error).ToNot(BeNil())
		}
	}
}

func TestMustNotBeNil(t *testing.T) {
	g := NewWithT(t)
	var ch chan struct{}
	tests := []struct {
		key    string
		value  interface{}
		result bool
	}{
		{"k1", nil, false},
		{"k2", ch, false},
		{"k3", []string{}, true},
	}

	for _, entry := range tests {
		v := Validator{}
		actualResult := v.MustNotBeNil(entry.key, entry.value)
		g.Expect(entry.result).To(Equal(actualResult))
		if !actualResult {
			g.Expect(v.Error).ToNot(BeNil())
		}
	}
}

func TestMustBeKnownRole(t *testing.T) {
	g := NewWithT(t)
	tests := []struct {
		role   topology.Role
		result bool
	}{
		{topology.RoleHost, true},
		{topology.RoleSwitch, true},
		{topology.RoleController, true},
		{topology.Role("Router"), false},
		{topology.Role(""), false},
	}

	for _, entry := range tests {
		v := Validator{}
		actualResult := v.MustBeKnownRole("role", entry.role)
		g.Expect(entry.result).To(Equal(actualResult))
		if !actualResult {
			g.Expect(v.Error).ToNot(BeNil())
		}
	}
}

func TestMustBeValidCIDRMask(t *testing.T) {
	g := NewWithT(t)
	tests := []struct {
		mask   int
		result bool
	}{
		{0, false},
		{1, true},
		{24, true},
		{32, true},
		{33, false},
		{-1, false},
	}

	for _, entry := range tests {
		v := Validator{}
		actualResult := v.MustBeValidCIDRMask("mask", entry.mask)
		g.Expect(entry.result).To(Equal(actualResult))
		if !actualResult {
			g.Expect(v.Error).ToNot(BeNil())
		}
	}
}
