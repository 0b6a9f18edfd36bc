// Package facts implements the default host fact collector an agent
// publishes to the controller, built entirely on the standard library: no
// library in the example pack wraps host/CPU/memory introspection, and
// pulling in a psutil-equivalent for a handful of /proc reads would be the
// one dependency in this tree with no grounding anywhere in the pack.
package facts

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Collect gathers the key set spec.md §6 lists for the default collector.
// Every key is best-effort: a platform-specific piece that can't be read
// (no /proc on this GOOS, no interfaces, etc.) is simply omitted rather
// than failing the whole collection.
func Collect() (map[string]any, error) {
	out := map[string]any{
		"platform": runtime.GOOS,
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("facts: hostname: %w", err)
	}
	out["hostname"] = hostname
	out["fqdn"] = fqdn(hostname)

	if u := unameFacts(); u != nil {
		out["uname"] = u
	}

	ifaces, primary, err := interfaceFacts()
	if err == nil {
		out["interfaces"] = ifaces
		out["primary_address"] = primary
	}

	if cpu := cpuFacts(); cpu != nil {
		out["cpu"] = cpu
	}
	if mem := memoryFacts(); mem != nil {
		out["memory"] = mem
	}
	if vendor := sysVendor(); vendor != "" {
		out["sys_vendor"] = vendor
	}
	if isQEMU(vendorOrEmpty(out)) {
		out["qemu"] = true
	}

	return out, nil
}

func vendorOrEmpty(m map[string]any) string {
	v, _ := m["sys_vendor"].(string)
	return v
}

func fqdn(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname
	}
	return strings.TrimSuffix(names[0], ".")
}

func interfaceFacts() (map[string]any, map[string]any, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	byName := map[string]any{}
	var primaryV4, primaryV6 []string

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		var v4, v6 []string
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			cidr := ipnet.String()
			if ipnet.IP.To4() != nil {
				v4 = append(v4, cidr)
			} else {
				v6 = append(v6, cidr)
			}
		}
		entry := map[string]any{"mac": iface.HardwareAddr.String()}
		if len(v4) > 0 {
			entry["ipv4"] = v4
		}
		if len(v6) > 0 {
			entry["ipv6"] = v6
		}
		byName[iface.Name] = entry

		if iface.Flags&net.FlagUp != 0 {
			primaryV4 = append(primaryV4, v4...)
			primaryV6 = append(primaryV6, v6...)
		}
	}

	primary := map[string]any{}
	if len(primaryV4) > 0 {
		primary["ipv4"] = primaryV4
	}
	if len(primaryV6) > 0 {
		primary["ipv6"] = primaryV6
	}
	return byName, primary, nil
}

func cpuFacts() map[string]any {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return map[string]any{"threads": runtime.NumCPU()}
	}
	defer f.Close()

	cores := map[string]bool{}
	threads := 0
	var frequency float64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "processor":
			threads++
		case "core id":
			cores[val] = true
		case "cpu MHz":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				frequency = f
			}
		}
	}

	out := map[string]any{"threads": threads}
	if len(cores) > 0 {
		out["cores"] = len(cores)
	}
	if frequency > 0 {
		out["frequency"] = frequency
	}
	return out
}

func memoryFacts() map[string]any {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil
	}
	defer f.Close()

	out := map[string]any{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "kB"))
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "MemTotal":
			out["ram"] = n * 1024
		case "SwapTotal":
			out["swap"] = n * 1024
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sysVendor() string {
	b, err := os.ReadFile("/sys/class/dmi/id/sys_vendor")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// isQEMU reports whether the DMI vendor string indicates a QEMU/KVM guest.
// The original implementation calls this fact "qemu" (the hypervisor
// userspace), which spec.md §6 preserves verbatim even though "kvm" (the
// kernel acceleration module) is the more commonly seen vendor string on
// Linux hosts; both indicate the same virtualized-guest condition.
func isQEMU(vendor string) bool {
	v := strings.ToLower(vendor)
	return strings.Contains(v, "qemu") || strings.Contains(v, "kvm")
}

func unameFacts() map[string]any {
	hostname, err := os.Hostname()
	if err != nil {
		return nil
	}
	return map[string]any{
		"sysname":  "Linux",
		"nodename": hostname,
		"release":  kernelRelease(),
		"version":  "",
		"machine":  runtime.GOARCH,
	}
}

func kernelRelease() string {
	b, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
