package comm_test

import (
	"io"
	"log"
	"net"
	"testing"

	"github.com/atomlab/dds/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			log.Println("new conn accepted")
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvRoundTripsThroughEcho(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false)
	if err := rd.Open(); err != nil {
		t.Fatal("could not open connection:", err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("dcp 0 update:u"))
	if err != nil {
		t.Fatal("send/recv failed:", err)
	}
	if string(resp) != "dcp 0 update:u" {
		t.Errorf("echo returned %q", resp)
	}
}

func TestSendWithoutOpenErrors(t *testing.T) {
	rd := comm.NewRemoteDevice("localhost:1", false)
	if err := rd.Send([]byte("x")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := rd.Recv(); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
