package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/observe-l/hmcal/internal/rpc"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:50051", "history service address")
		cmd     = flag.String("cmd", "info", "command: info|predict|implausibility")
		wave    = flag.Int("wave", -1, "wave index (-1 = latest / all)")
		point   = flag.String("point", "", "comma-separated name=value inputs, e.g. beta=0.5,gamma=0.4")
		timeout = flag.Duration("timeout", 5*time.Second, "request timeout")
	)
	flag.Parse()

	conn, err := grpc.Dial(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	c := rpc.NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var out *structpb.Struct
	switch *cmd {
	case "info":
		out, err = c.Info(ctx)
	case "predict", "implausibility":
		p, perr := parsePoint(*point)
		if perr != nil {
			fatalf("%v", perr)
		}
		if *cmd == "predict" {
			out, err = c.Predict(ctx, *wave, p)
		} else {
			out, err = c.Implausibility(ctx, *wave, p)
		}
	default:
		fatalf("unknown cmd %q", *cmd)
	}
	if err != nil {
		fatalf("%s: %v", *cmd, err)
	}
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
	if err != nil {
		fatalf("encode: %v", err)
	}
	fmt.Println(string(b))
}

func parsePoint(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("bad input %q, want name=value", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value for %s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = f
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no inputs given")
	}
	return out, nil
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
