package decree

import (
	"context"
	"testing"
)

func TestPackagesInstallsMissing(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("dpkg-query", []string{"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W"})] = fakeOutput{
		out: "curl amd64 1.0 install ok installed yes\n",
	}

	d := NewPackages("p.star", 1, map[string]bool{"curl": true, "jq": true}, nil, nil, false, false, false, r)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.Updated() {
		t.Error("expected Updated() true when a package needs installing")
	}
	found := false
	for _, c := range r.calls {
		if c.name == "apt-get" {
			for _, a := range c.args {
				if a == "jq" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected apt-get invocation to include jq")
	}
}

func TestPackagesNoopWhenAllSatisfied(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("dpkg-query", []string{"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W"})] = fakeOutput{
		out: "curl amd64 1.0 install ok installed yes\n",
	}

	d := NewPackages("p.star", 1, map[string]bool{"curl": true}, nil, nil, false, false, false, r)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Updated() {
		t.Error("expected Updated() false when the desired package is already installed")
	}
}

func TestPackagesRemovesUnwanted(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("dpkg-query", []string{"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W"})] = fakeOutput{
		out: "telnet amd64 1.0 deinstall ok installed yes\n",
	}

	d := NewPackages("p.star", 1, map[string]bool{"telnet": false}, nil, nil, false, false, false, r)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.Updated() {
		t.Error("expected Updated() true when a package needs removing")
	}
}

func TestPackagesErrorStatePropagates(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("dpkg-query", []string{"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W"})] = fakeOutput{
		out: "curl amd64 1.0 install reinstreq installed yes\n",
	}

	d := NewPackages("p.star", 1, map[string]bool{"curl": true}, nil, nil, false, false, false, r)
	if _, err := d.Apply(context.Background(), false); err == nil {
		t.Error("expected an error for a package stuck in an error state")
	}
}

func TestPackagesConfigFilesTreatedAsAbsent(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("dpkg-query", []string{"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W"})] = fakeOutput{
		out: "curl amd64 1.0 purge ok config-files yes\n",
	}

	d := NewPackages("p.star", 1, map[string]bool{"curl": true}, nil, nil, false, false, false, r)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.Updated() {
		t.Error("expected a config-files-only package to still need installing")
	}
}

func TestPackagesGentleUsesAptMarkShowmanual(t *testing.T) {
	r := newFakeRunner()
	r.outputs[key("dpkg", []string{"--print-architecture"})] = fakeOutput{out: "amd64\n"}
	r.outputs[key("apt-mark", []string{"showmanual"})] = fakeOutput{out: "curl\n"}

	d := NewPackages("p.star", 1, map[string]bool{"curl": true, "jq": true}, nil, nil, false, false, true, r)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.Updated() {
		t.Error("expected jq to still need installing under gentle mode")
	}
}
