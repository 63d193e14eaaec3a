package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/xiaobei/internal/client"
	"github.com/ent0n29/xiaobei/internal/config"
	"github.com/ent0n29/xiaobei/internal/protocol"
	"github.com/ent0n29/xiaobei/internal/signing"
)

const usage = `usage: xiaobei-cli <command> [flags]

commands:
  chat     interactive session with an agent
  keygen   print a new signing secret
  sign     sign a JSON message
  verify   verify a signed payload
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "chat":
		err = runChat(args[1:], stdin, stdout)
	case "keygen":
		err = runKeygen(stdout)
	case "sign":
		err = runSign(args[1:], stdin, stdout)
	case "verify":
		var valid bool
		valid, err = runVerify(args[1:], stdout)
		if err == nil && !valid {
			return 1
		}
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "xiaobei-cli: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		var usageErr usageError
		fmt.Fprintf(stderr, "xiaobei-cli: %v\n", err)
		if errors.As(err, &usageErr) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type chatOptions struct {
	baseURL  string
	from     string
	proof    string
	realtime bool
	timeout  time.Duration
}

func parseChatFlags(args []string) (chatOptions, error) {
	var opts chatOptions
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.baseURL, "url", envOr("XIAOBEI_URL", "http://localhost:3401"), "agent base URL")
	fs.StringVar(&opts.from, "from", "cli-"+uuid.NewString()[:8], "requester id sent in the handshake")
	fs.StringVar(&opts.proof, "proof", "", "payment proof attached when a capability asks for payment")
	fs.BoolVar(&opts.realtime, "ws", false, "send messages over the realtime websocket channel")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-message timeout")
	if err := fs.Parse(args); err != nil {
		return chatOptions{}, usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		opts.baseURL = fs.Arg(0)
	}
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	if opts.baseURL == "" {
		return chatOptions{}, usageError{msg: "url is required"}
	}
	if opts.timeout <= 0 {
		return chatOptions{}, usageError{msg: "timeout must be > 0"}
	}
	return opts, nil
}

// runChat is a line-oriented REPL. Plain lines go to chat; "/send
// <capability> <json>" reaches any granted capability and "/sessions" lists
// the agent's sessions.
func runChat(args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseChatFlags(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c := client.New(opts.baseURL, opts.from)

	doc, err := c.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	fmt.Fprintf(stdout, "agent: %s (%s)\ncapabilities: %s\n", doc.Name, doc.Protocol, strings.Join(doc.Capabilities, ", "))

	hs, err := c.Handshake(ctx, nil)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	fmt.Fprintf(stdout, "session: %s\n\n", hs.SessionID)

	var proofs client.ProofSource
	if opts.proof != "" {
		proofs = client.ProofFunc(func(context.Context, string, protocol.Accepts) (string, error) {
			return opts.proof, nil
		})
	}

	send := func(ctx context.Context, capability string, payload any) (protocol.MessageResponse, error) {
		return c.SendAuto(ctx, capability, payload, proofs)
	}
	if opts.realtime {
		stream, err := c.Dial(ctx, hs.SessionID)
		if err != nil {
			return err
		}
		defer stream.Close()
		send = func(ctx context.Context, capability string, payload any) (protocol.MessageResponse, error) {
			return stream.Send(ctx, capability, payload, opts.proof)
		}
	}

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "you > ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Fprintln(stdout, "bye")
			return nil
		case line == "/sessions":
			listing, err := c.Sessions(ctx)
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
				continue
			}
			printJSON(stdout, listing)
			continue
		}

		capability, payload, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		msgCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		out, err := send(msgCtx, capability, payload)
		cancel()
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		printReply(stdout, doc.Name, out)
	}
}

func parseLine(line string) (string, any, error) {
	if !strings.HasPrefix(line, "/send ") {
		return "chat", map[string]string{"message": line}, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/send "))
	capability, raw, _ := strings.Cut(rest, " ")
	if capability == "" {
		return "", nil, errors.New("usage: /send <capability> <json payload>")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return capability, nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return "", nil, errors.New("payload must be valid JSON")
	}
	return capability, json.RawMessage(raw), nil
}

func printReply(w io.Writer, agent string, out protocol.MessageResponse) {
	if out.Capability == "chat" && out.Metadata.Outcome == "ok" {
		var chat struct {
			Reply string `json:"reply"`
		}
		if json.Unmarshal(out.Response, &chat) == nil && chat.Reply != "" {
			fmt.Fprintf(w, "%s > %s\n", agent, chat.Reply)
			return
		}
	}
	fmt.Fprintf(w, "%s > [%s #%d %s/%s]\n", agent, out.Capability, out.Metadata.MessageNumber, out.Metadata.Payment, out.Metadata.Outcome)
	printJSON(w, out.Response)
}

func runKeygen(stdout io.Writer) error {
	secret, err := signing.GenerateSecret()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, secret)
	return nil
}

func runSign(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	secret := fs.String("secret", os.Getenv("XIAOBEI_SECRET"), "shared signing secret")
	message := fs.String("message", "", "JSON message to sign (default: read stdin)")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if *secret == "" {
		return usageError{msg: "secret is required (-secret or XIAOBEI_SECRET)"}
	}

	raw := []byte(*message)
	if *message == "" {
		var err error
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if !json.Valid(raw) {
		return usageError{msg: "message must be valid JSON"}
	}

	env, err := signing.Sign(json.RawMessage(raw), *secret)
	if err != nil {
		return err
	}
	printJSON(stdout, env)
	return nil
}

type verifyOutput struct {
	Valid   bool            `json:"valid"`
	Kind    string          `json:"kind,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

func runVerify(args []string, stdout io.Writer) (bool, error) {
	defaultMaxAge, err := config.SignatureMaxAge()
	if err != nil {
		return false, err
	}
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	secret := fs.String("secret", os.Getenv("XIAOBEI_SECRET"), "shared signing secret")
	payload := fs.String("payload", "", "signed payload string")
	signature := fs.String("signature", "", "hex signature")
	envelope := fs.String("envelope", "", "envelope JSON as printed by sign (instead of -payload/-signature)")
	maxAge := fs.Duration("max-age", defaultMaxAge, "maximum envelope age")
	if err := fs.Parse(args); err != nil {
		return false, usageError{msg: err.Error()}
	}
	if *secret == "" {
		return false, usageError{msg: "secret is required (-secret or XIAOBEI_SECRET)"}
	}
	if *envelope != "" {
		var env signing.Envelope
		if err := json.Unmarshal([]byte(*envelope), &env); err != nil {
			return false, usageError{msg: "envelope must be valid JSON"}
		}
		*payload, *signature = env.Payload, env.Signature
	}

	res := signing.Verify(*payload, *signature, *secret, *maxAge)
	printJSON(stdout, verifyOutput{
		Valid:   res.Valid,
		Kind:    string(res.Kind),
		Reason:  res.Reason,
		Message: res.Message,
	})
	return res.Valid, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
