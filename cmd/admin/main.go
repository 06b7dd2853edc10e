package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// admin is a thin CLI over the server's admin API.
//
// Usage:
//
//	admin [-addr host:port] metrics
//	admin [-addr host:port] integrity
//	admin [-addr host:port] sessions
//	admin [-addr host:port] end-session <session-id>
//	admin [-addr host:port] kick <peer-id>
//	admin [-addr host:port] transactions <peer-id>
//	admin [-addr host:port] create-location <location.json>
func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "Admin API address")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	base := fmt.Sprintf("http://%s", *addr)
	var err error
	switch args[0] {
	case "metrics":
		err = get(base + "/admin/metrics")
	case "integrity":
		err = get(base + "/admin/integrity")
	case "sessions":
		err = get(base + "/admin/sessions")
	case "end-session":
		err = withArg(args, func(id string) error {
			return del(base + "/admin/sessions/" + id)
		})
	case "kick":
		err = withArg(args, func(id string) error {
			return del(base + "/admin/peers/" + id)
		})
	case "transactions":
		err = withArg(args, func(id string) error {
			return get(base + "/admin/peers/" + id + "/transactions")
		})
	case "create-location":
		err = withArg(args, func(path string) error {
			return postFile(base+"/admin/locations", path)
		})
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin [-addr host:port] <metrics|integrity|sessions|end-session|kick|transactions|create-location> [arg]")
}

func withArg(args []string, fn func(string) error) error {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	return fn(args[1])
}

func get(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return render(resp)
}

func del(url string) error {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return render(resp)
}

func postFile(url, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return render(resp)
}

func render(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		fmt.Println("OK")
		return nil
	}
	var pretty json.RawMessage
	if json.Unmarshal(body, &pretty) == nil {
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			fmt.Println(string(out))
			return nil
		}
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
