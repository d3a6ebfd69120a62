package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/edgegate/ingressd/internal/membership"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

const prefix = "/ingressd/endpoints"

// Manual membership tooling: feeds endpoint add/remove events into the etcd
// prefix the proxy watches.
//
//	endpointctl add <group> <ip:port> [weight]
//	endpointctl del <group> <ip:port>
func main() {
	if len(os.Args) < 4 {
		fmt.Println("usage: endpointctl add|del <group> <ip:port> [weight]")
		os.Exit(1)
	}
	ctx := context.Background()
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints: []string{"localhost:2379"},
	})
	if err != nil {
		panic(err)
	}
	defer clnt.Close()

	group := models.GroupID(os.Args[2])
	addr, err := healthcheck.TargetAddrFromString(os.Args[3])
	if err != nil {
		panic(err)
	}
	key := membership.EndpointKey(prefix, group, addr)

	switch os.Args[1] {
	case "add":
		weight := uint64(1)
		if len(os.Args) > 4 {
			weight, err = strconv.ParseUint(os.Args[4], 10, 32)
			if err != nil {
				panic(err)
			}
		}
		value, _ := json.Marshal(map[string]any{
			"weight":   weight,
			"protocol": models.TCP,
		})
		_, err = clnt.KV.Put(ctx, key, string(value))
	case "del":
		_, err = clnt.KV.Delete(ctx, key)
	default:
		fmt.Printf("unknown command %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		panic(err)
	}
}
