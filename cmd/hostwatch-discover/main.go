// cmd/hostwatch-discover/main.go - Ping-sweep a network and emit a hosts
// seed fragment for the hostwatch config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"hostwatch/internal/config"
	"hostwatch/internal/monitoring"
)

// sweepLimit caps the number of addresses expanded from the CIDR so a typo
// like /8 does not turn into a day-long scan.
const sweepLimit = 65536

type discovered struct {
	Address  string
	Hostname string
}

type hostsFragment struct {
	Hosts []config.HostConfig `yaml:"hosts"`
}

func main() {
	var (
		network    = flag.String("network", "", "CIDR network to sweep (e.g., 192.168.1.0/24)")
		output     = flag.String("output", "hosts.yaml", "Output file for the hosts fragment")
		group      = flag.String("group", "discovered", "Group name for discovered hosts")
		workers    = flag.Int("workers", 32, "Concurrent probe workers")
		timeout    = flag.Duration("timeout", 1*time.Second, "Per-host probe timeout")
		privileged = flag.Bool("privileged", false, "Use raw ICMP sockets (requires root)")
		verbose    = flag.Bool("verbose", false, "Print every responding host as it is found")
	)
	flag.Parse()

	if *network == "" {
		detected := detectLocalNetwork()
		if detected == "" {
			log.Fatal("No network specified and couldn't detect local network. Use -network flag.")
		}
		*network = detected
		fmt.Printf("Auto-detected network: %s\n", *network)
	}

	addrs, err := expandCIDR(*network)
	if err != nil {
		log.Fatalf("Invalid network %q: %v", *network, err)
	}

	fmt.Printf("Sweeping %s (%d addresses, %d workers)\n", *network, len(addrs), *workers)

	found := sweep(addrs, *workers, *timeout, *privileged, *verbose)
	sort.Slice(found, func(i, j int) bool {
		return compareIPs(found[i].Address, found[j].Address) < 0
	})

	fragment := buildFragment(found, *group)
	if err := writeFragment(fragment, *network, *output); err != nil {
		log.Fatalf("Failed to write hosts fragment: %v", err)
	}

	fmt.Printf("\n%d hosts responded; fragment written to %s\n", len(found), *output)
}

func detectLocalNetwork() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				if ipnet.IP.IsGlobalUnicast() {
					return ipnet.String()
				}
			}
		}
	}
	return ""
}

// expandCIDR lists the usable addresses of the network, skipping the network
// and broadcast addresses for subnets that have them.
func expandCIDR(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("only IPv4 networks are supported")
	}

	var addrs []string
	for cur := ip.Mask(ipnet.Mask); ipnet.Contains(cur); cur = nextIP(cur) {
		addrs = append(addrs, cur.String())
		if len(addrs) > sweepLimit {
			return nil, fmt.Errorf("network expands to more than %d addresses", sweepLimit)
		}
	}

	if ones, bits := ipnet.Mask.Size(); bits-ones >= 2 && len(addrs) > 2 {
		addrs = addrs[1 : len(addrs)-1]
	}
	return addrs, nil
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

func sweep(addrs []string, workers int, timeout time.Duration, privileged, verbose bool) []discovered {
	prober := monitoring.NewPingProber(timeout, privileged)

	jobs := make(chan string, len(addrs))
	for _, addr := range addrs {
		jobs <- addr
	}
	close(jobs)

	var (
		mu    sync.Mutex
		found []discovered
		wg    sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				if prober.Probe(context.Background(), addr) != monitoring.OutcomeHealthy {
					continue
				}

				d := discovered{Address: addr, Hostname: reverseLookup(addr)}
				if verbose {
					fmt.Printf("  %s %s\n", d.Address, d.Hostname)
				}

				mu.Lock()
				found = append(found, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return found
}

func reverseLookup(addr string) string {
	names, err := net.LookupAddr(addr)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func buildFragment(found []discovered, group string) *hostsFragment {
	fragment := &hostsFragment{Hosts: make([]config.HostConfig, 0, len(found))}
	for _, d := range found {
		fragment.Hosts = append(fragment.Hosts, config.HostConfig{
			Name:    hostName(d),
			Address: d.Address,
			Group:   group,
		})
	}
	return fragment
}

func hostName(d discovered) string {
	if d.Hostname != "" {
		return strings.ToLower(strings.Split(d.Hostname, ".")[0])
	}
	parts := strings.Split(d.Address, ".")
	return fmt.Sprintf("host-%s", parts[len(parts)-1])
}

func compareIPs(a, b string) int {
	ipA := net.ParseIP(a).To4()
	ipB := net.ParseIP(b).To4()
	for i := 0; i < 4; i++ {
		if ipA[i] != ipB[i] {
			return int(ipA[i]) - int(ipB[i])
		}
	}
	return 0
}

func writeFragment(fragment *hostsFragment, network, filename string) error {
	data, err := yaml.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# Hostwatch seed hosts\n# Generated by hostwatch-discover from %s on %s\n# Merge the hosts list into your config file.\n\n",
		network,
		time.Now().Format("2006-01-02 15:04:05"))

	finalData := append([]byte(header), data...)

	if err := os.WriteFile(filename, finalData, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
