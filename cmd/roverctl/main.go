package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/proto/conv"
	pb "github.com/adammck/rover/pkg/proto/gen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	w := flag.CommandLine.Output()

	flag.Usage = func() {
		fmt.Fprintf(w, "Usage: %s [-addr=host:port] <action> [<args>]\n", os.Args[0])
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Action and args must be one of:\n")
		fmt.Fprintf(w, "  - lookup <unitID>\n")
		fmt.Fprintf(w, "  - update <unitID> <hostID> <version>\n")
		fmt.Fprintf(w, "  - dump\n")
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Flags:\n")
		flag.PrintDefaults()
	}

	addr := flag.String("addr", "localhost:5100", "registry address")
	requester := flag.String("requester", "", "requester ID to send with lookups (default: the server uses the client address)")
	printReq := flag.Bool("request", false, "print gRPC request instead of sending it")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	// TODO: Catch signals for cancellation.
	ctx := context.Background()

	ctxDial, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctxDial, *addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	if err != nil {
		fmt.Fprintf(w, "Error dialing registry: %v\n", err)
		os.Exit(1)
	}

	client := pb.NewLocatorClient(conn)
	action := flag.Arg(0)

	switch action {
	case "lookup", "l":
		if flag.NArg() != 2 {
			fmt.Fprintf(w, "Usage: %s lookup <unitID>\n", os.Args[0])
			os.Exit(1)
		}

		cmdLookup(*printReq, client, ctx, api.RequesterID(*requester), api.UnitID(flag.Arg(1)))

	case "update", "u":
		if flag.NArg() != 4 {
			fmt.Fprintf(w, "Usage: %s update <unitID> <hostID> <version>\n", os.Args[0])
			os.Exit(1)
		}

		v, err := strconv.ParseUint(flag.Arg(3), 10, 64)
		if err != nil {
			fmt.Fprintf(w, "Invalid version: %v\n", err)
			os.Exit(1)
		}

		id := api.UnitID(flag.Arg(1))
		rec := api.Record{
			Unit: id,
			Handle: api.Handle{
				Unit: id,
				Host: api.HostID(flag.Arg(2)),
			},
			Version: api.Version(v),
		}

		cmdUpdate(*printReq, client, ctx, rec)

	case "dump", "d":
		if flag.NArg() != 1 {
			fmt.Fprintf(w, "Usage: %s dump\n", os.Args[0])
			os.Exit(1)
		}

		cmdDump(*printReq, client, ctx)

	default:
		flag.Usage()
		os.Exit(1)
	}
}

func cmdLookup(printReq bool, client pb.LocatorClient, ctx context.Context, requester api.RequesterID, id api.UnitID) {
	w := flag.CommandLine.Output()

	// Long enough to sit out the cooldown, if this is a repeat.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := conv.LookupRequestToProto(requester, id)

	if printReq {
		output(req)
		return
	}

	res, err := client.Lookup(ctx, req)

	if err != nil {
		fmt.Fprintf(w, "Locator.Lookup returned: %v\n", err)
		os.Exit(1)
	}

	output(res)
}

func cmdUpdate(printReq bool, client pb.LocatorClient, ctx context.Context, rec api.Record) {
	w := flag.CommandLine.Output()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req := conv.RecordToProto(rec)

	if printReq {
		output(req)
		return
	}

	res, err := client.Update(ctx, req)

	if err != nil {
		fmt.Fprintf(w, "Locator.Update returned: %v\n", err)
		os.Exit(1)
	}

	output(res)
}

func cmdDump(printReq bool, client pb.LocatorClient, ctx context.Context) {
	w := flag.CommandLine.Output()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := &structpb.Struct{}

	if printReq {
		output(req)
		return
	}

	res, err := client.Dump(ctx, req)

	if err != nil {
		fmt.Fprintf(w, "Locator.Dump returned: %v\n", err)
		os.Exit(1)
	}

	output(res)
}

func output(res protoreflect.ProtoMessage) {
	opts := protojson.MarshalOptions{
		Multiline:       true,
		UseProtoNames:   true,
		EmitUnpopulated: true,
	}

	fmt.Println(opts.Format(res))
}
