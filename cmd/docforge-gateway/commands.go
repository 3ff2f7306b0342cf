// ABOUTME: Client subcommands that drive a running gateway over its HTTP API
// ABOUTME: Protocol registration, streaming generation, review and export

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/docforge-gateway/internal/client"
	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/gateway"
	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/session"
)

// gatewayURL resolves the API base URL: DOCFORGE_URL, then the config's
// http_addr, then the default address.
func gatewayURL() string {
	if u := os.Getenv("DOCFORGE_URL"); u != "" {
		return u
	}
	addr := "127.0.0.1:8090"
	if cfg, err := config.Load(getConfigPath()); err == nil {
		addr = cfg.Server.HTTPAddr
	}
	return "http://" + addr
}

func newClient() *client.Client {
	return client.New(gatewayURL(), nil)
}

// flagSet is a minimal parser for "--name value" and "--name=value" pairs.
// Repeated flags accumulate; anything else is positional.
type flagSet struct {
	values     map[string][]string
	positional []string
}

func parseFlags(args []string, known ...string) (*flagSet, error) {
	fs := &flagSet{values: map[string][]string{}}
	isKnown := func(name string) bool {
		for _, k := range known {
			if k == name {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			fs.positional = append(fs.positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !isKnown(name) {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		fs.values[name] = append(fs.values[name], value)
	}
	return fs, nil
}

func (f *flagSet) get(name string) string {
	if v := f.values[name]; len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

func (f *flagSet) all(name string) []string {
	var out []string
	for _, v := range f.values[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func runHealth(ctx context.Context) error {
	c := newClient()
	if _, err := c.Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println("healthy")

	ready, err := c.Ready(ctx)
	if err != nil {
		return fmt.Errorf("not ready: %w", err)
	}
	fmt.Println(ready)
	return nil
}

func runDiagnostics(ctx context.Context) error {
	d, err := newClient().Diagnostics(ctx)
	if err != nil {
		return err
	}
	green, red := color.New(color.FgGreen), color.New(color.FgRed)

	fmt.Printf("  Vector store:  %s ", d.VectorBackend)
	if d.VectorReachable {
		green.Println("reachable")
	} else {
		red.Printf("unreachable (%s)\n", d.VectorError)
	}
	fmt.Printf("  Collections:   %d total, %d protocol\n", d.TotalCollections, len(d.ProtocolCollections))
	fmt.Printf("  Protocols:     %d\n", d.Protocols)
	if d.StoreError != "" {
		red.Printf("  Store error:   %s\n", d.StoreError)
	}
	fmt.Printf("  Sessions:      %d\n", d.Sessions)
	fmt.Printf("  Providers:     %s\n", strings.Join(d.Providers, ", "))
	return nil
}

func runTypes(ctx context.Context) error {
	types, err := newClient().DocumentTypes(ctx)
	if err != nil {
		return err
	}
	cyan := color.New(color.FgCyan)
	for _, dt := range types {
		cyan.Printf("  %s", dt.Name)
		fmt.Printf("  %s\n", dt.Title)
		for _, s := range dt.Sections {
			fmt.Printf("    - %-14s %s\n", s.Name, s.Title)
		}
		fmt.Println()
	}
	return nil
}

func runProtocols(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return protocolsList(ctx)
	case "add":
		return protocolsAdd(ctx, args)
	case "show":
		return protocolsShow(ctx, args)
	case "ingest":
		return protocolsIngest(ctx, args)
	case "find":
		return protocolsFind(ctx, args)
	case "delete":
		return protocolsDelete(ctx, args)
	default:
		return fmt.Errorf("unknown protocols command: %s", sub)
	}
}

func protocolsList(ctx context.Context) error {
	protocols, err := newClient().ListProtocols(ctx)
	if err != nil {
		return err
	}
	if len(protocols) == 0 {
		fmt.Println("  No protocols registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tACRONYM\tTITLE\tCOLLECTION\tUPLOADED")
	fmt.Fprintln(w, "  --\t-------\t-----\t----------\t--------")
	for _, p := range protocols {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			p.ID, p.StudyAcronym, truncate(p.Title, 40), p.CollectionName,
			p.UploadedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func readTextFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func protocolsAdd(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "acronym", "title", "file")
	if err != nil {
		return err
	}
	if fs.get("acronym") == "" {
		return errors.New("usage: protocols add --acronym <acronym> [--title <title>] [--file <protocol.txt>]")
	}
	text, err := readTextFile(fs.get("file"))
	if err != nil {
		return err
	}

	resp, err := newClient().CreateProtocol(ctx, gateway.CreateProtocolRequest{
		StudyAcronym:  fs.get("acronym"),
		ProtocolTitle: fs.get("title"),
		Text:          text,
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Registered %s\n", resp.Protocol.StudyAcronym)
	fmt.Printf("  ID:         %s\n", resp.Protocol.ID)
	fmt.Printf("  Collection: %s\n", resp.Protocol.CollectionName)
	fmt.Printf("  Chunks:     %d\n", resp.Chunks)
	return nil
}

func protocolsShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: protocols show <id>")
	}
	resp, err := newClient().Protocol(ctx, args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("  %s", resp.Protocol.StudyAcronym)
	fmt.Printf("  %s\n\n", resp.Protocol.Title)
	if len(resp.Sessions) == 0 {
		fmt.Println("  No sessions yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tTYPE\tSTATUS\tSECTIONS\tUPDATED")
	fmt.Fprintln(w, "  -------\t----\t------\t--------\t-------")
	for _, s := range resp.Sessions {
		ready := 0
		for _, st := range s.Sections {
			if st == session.StatusReady || st == session.StatusApproved {
				ready++
			}
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d/%d\t%s\n",
			s.ID, s.DocumentType, s.Status, ready, len(s.Sections),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func protocolsFind(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: protocols find <collection>")
	}
	p, err := newClient().ProtocolByCollection(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("  ID:         %s\n", p.ID)
	fmt.Printf("  Acronym:    %s\n", p.StudyAcronym)
	fmt.Printf("  Title:      %s\n", p.Title)
	fmt.Printf("  Collection: %s\n", p.CollectionName)
	return nil
}

func protocolsDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: protocols delete <id>")
	}
	if err := newClient().DeleteProtocol(ctx, args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ Deleted protocol %s\n", args[0])
	return nil
}

func protocolsIngest(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "file")
	if err != nil {
		return err
	}
	if len(fs.positional) != 1 || fs.get("file") == "" {
		return errors.New("usage: protocols ingest <id> --file <protocol.txt>")
	}
	text, err := readTextFile(fs.get("file"))
	if err != nil {
		return err
	}
	n, err := newClient().Ingest(ctx, fs.positional[0], text)
	if err != nil {
		return err
	}
	color.Green("  ✓ Ingested %d chunks\n", n)
	return nil
}

// streamPrinter renders generation events as they arrive. Token text is
// only echoed for a single-section run, where output cannot interleave.
type streamPrinter struct {
	echoTokens bool
	started    time.Time
}

func (p *streamPrinter) onEvent(e generation.Event) error {
	gray := color.New(color.FgHiBlack)
	switch e.Type {
	case generation.EventSectionStart:
		color.New(color.FgCyan).Printf("  ▶ %s\n", e.Section)
	case generation.EventToken:
		if p.echoTokens {
			gray.Print(e.Text)
		}
	case generation.EventSectionComplete:
		if p.echoTokens {
			fmt.Println()
		}
		color.New(color.FgGreen).Printf("  ✓ %s", e.Section)
		gray.Printf(" (%d words)\n", e.WordCount)
	case generation.EventSectionError:
		if p.echoTokens {
			fmt.Println()
		}
		color.New(color.FgRed).Printf("  ✗ %s: %s\n", e.Section, e.Message)
	case generation.EventSessionComplete:
		fmt.Println()
		c := color.New(color.FgGreen)
		if e.Status != session.SessionCompleted {
			c = color.New(color.FgYellow)
		}
		c.Printf("  Session %s %s", e.SessionID, e.Status)
		gray.Printf(" in %s\n", time.Since(p.started).Round(100*time.Millisecond))
	}
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "protocol", "type", "section", "session")
	if err != nil {
		return err
	}
	req := gateway.GenerateRequest{
		ProtocolID:   fs.get("protocol"),
		DocumentType: fs.get("type"),
		Sections:     fs.all("section"),
		SessionID:    fs.get("session"),
	}
	if req.SessionID == "" {
		if req.ProtocolID == "" {
			return errors.New("usage: generate --protocol <id> [--type icf] [--section <key>]... | --session <id>")
		}
		if req.DocumentType == "" {
			req.DocumentType = "icf"
		}
	}

	p := &streamPrinter{echoTokens: len(req.Sections) == 1, started: time.Now()}
	id, err := newClient().Generate(ctx, req, p.onEvent)
	if err != nil {
		if id != "" {
			return fmt.Errorf("session %s: %w", id, err)
		}
		return err
	}
	return nil
}

func runRegenerate(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "section")
	if err != nil {
		return err
	}
	if len(fs.positional) != 1 {
		return errors.New("usage: regenerate <session-id> [--section <key>]...")
	}
	sections := fs.all("section")
	p := &streamPrinter{echoTokens: len(sections) == 1, started: time.Now()}
	_, err = newClient().Regenerate(ctx, fs.positional[0], sections, p.onEvent)
	return err
}

func runSession(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: session <id>")
	}
	snap, err := newClient().Session(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("  Session:  %s\n", snap.ID)
	fmt.Printf("  Protocol: %s\n", snap.ProtocolID)
	fmt.Printf("  Type:     %s\n", snap.DocumentType)
	fmt.Printf("  Status:   %s\n\n", snap.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SECTION\tSTATUS\tWORDS\tERROR")
	fmt.Fprintln(w, "  -------\t------\t-----\t-----")
	for _, s := range snap.Sections {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", s.Key, s.Status, s.WordCount, truncate(s.Error, 50))
	}
	return w.Flush()
}

func runApprove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: approve <session-id> <section>")
	}
	sec, err := newClient().Approve(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	color.Green("  ✓ %s %s\n", sec.Key, sec.Status)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "format", "out")
	if err != nil {
		return err
	}
	if len(fs.positional) != 1 {
		return errors.New("usage: export <session-id> [--format markdown|html] [--out <file>]")
	}
	body, err := newClient().Export(ctx, fs.positional[0], fs.get("format"))
	if err != nil {
		return err
	}
	if out := fs.get("out"); out != "" {
		if err := os.WriteFile(out, body, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		color.Green("  ✓ Wrote %s\n", out)
		return nil
	}
	_, err = os.Stdout.Write(body)
	return err
}
