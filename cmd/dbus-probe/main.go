// Program dbus-probe connects to a message bus, calls Peer.Ping, and
// prints the assigned unique bus name, to show how the package can be
// configured if needed.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	dbusclient "github.com/marselester/dbusclient"
)

func main() {
	exitCode := 1
	defer func() { os.Exit(exitCode) }()

	addr := flag.String("addr", "", "bus address, e.g. unix:path=/run/user/1000/bus")
	destination := flag.String("dest", "org.freedesktop.DBus", "ping destination")
	timeout := flag.Duration("timeout", 5*time.Second, "method call timeout")
	system := flag.Bool("system", false, "connect to the system bus instead of the session bus")
	flag.Parse()

	a, err := resolveAddress(*addr, *system)
	if err != nil {
		log.Print(err)
		return
	}

	conn, err := dbusclient.Connect(a, dbusclient.WithMethodCallTimeout(*timeout))
	if err != nil {
		log.Print(err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Print(err)
		}
	}()

	fmt.Printf("connected as %s\n", conn.BusName())
	if uid, gid, pid, err := conn.PeerCredentials(); err == nil {
		fmt.Printf("bus daemon peer credentials: uid=%d gid=%d pid=%d\n", uid, gid, pid)
	}

	call, err := dbusclient.NewMethodCall("/", "Ping",
		dbusclient.WithInterface("org.freedesktop.DBus.Peer"),
		dbusclient.WithDestination(*destination),
	)
	if err != nil {
		log.Print(err)
		return
	}

	if _, err := conn.SendRequest(call).Wait(); err != nil {
		log.Print(err)
		return
	}
	fmt.Printf("ping to %s succeeded\n", *destination)

	exitCode = 0
}

func resolveAddress(addr string, system bool) (dbusclient.Address, error) {
	if addr != "" {
		return dbusclient.ParseAddress(addr)
	}
	if system {
		return dbusclient.SystemBusAddress()
	}
	return dbusclient.SessionBusAddress()
}
