package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
)

// Tiny echo backend for manual proxy testing: a TCP echo on the given port
// and an HTTP health endpoint on port+1.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: testbackend <port>")
		os.Exit(1)
	}
	port := os.Args[1]

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			log.Printf("got hc request from %s", r.RemoteAddr)
			w.WriteHeader(http.StatusOK)
		})
		var portNum int
		_, _ = fmt.Sscanf(port, "%d", &portNum)
		err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", portNum+1), mux)
		if err != nil {
			fmt.Println(err)
		}
	}()

	ln, err := net.Listen("tcp", "0.0.0.0:"+port)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	log.Printf("echo backend on :%s", port)
	for {
		conn, err := ln.Accept()
		if err != nil {
			fmt.Println(err)
			continue
		}
		go func() {
			defer conn.Close()
			_, _ = io.Copy(conn, conn)
		}()
	}
}
