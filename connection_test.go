package dbusclient_test

import (
	"context"
	"testing"
	"time"

	dbusclient "github.com/marselester/dbusclient"
	"github.com/marselester/dbusclient/internal/dbustest"
	"github.com/stretchr/testify/require"
)

func TestConnectHelloSuccess(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.77")
	require.NoError(t, err)
	defer broker.Close()

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, ":1.77", conn.BusName())
	require.Equal(t, dbusclient.StateConnected, conn.State())
}

func TestSendRequestRoundTrip(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.1")
	require.NoError(t, err)
	defer broker.Close()

	broker.Handle("org.example.Greeter", "Greet", func(call *dbusclient.Message) ([]dbusclient.DType, []dbusclient.Value, error) {
		name, _ := call.Body[0].StringValue()
		greeting, err := dbusclient.NewString("hello, " + name)
		if err != nil {
			return nil, nil, err
		}
		return []dbusclient.DType{dbusclient.TString}, []dbusclient.Value{greeting}, nil
	})

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	arg, err := dbusclient.NewString("world")
	require.NoError(t, err)
	call, err := dbusclient.NewMethodCall("/org/example/Greeter", "Greet",
		dbusclient.WithInterface("org.example.Greeter"),
		dbusclient.WithBody([]dbusclient.DType{dbusclient.TString}, []dbusclient.Value{arg}),
	)
	require.NoError(t, err)

	reply, err := conn.SendRequest(call).Wait()
	require.NoError(t, err)
	require.True(t, reply.HasBody())

	s, ok := reply.Body[0].StringValue()
	require.True(t, ok)
	require.Equal(t, "hello, world", s)
}

func TestSendRequestTimesOutWithoutAReply(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.2")
	require.NoError(t, err)
	defer broker.Close()

	// The handler replies well after the client's call timeout, so the
	// reply arrives only after the pending call has already been settled
	// locally as a timeout.
	broker.Handle("org.example.Slow", "Never", func(call *dbusclient.Message) ([]dbusclient.DType, []dbusclient.Value, error) {
		time.Sleep(time.Second)
		return nil, nil, nil
	})

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	call, err := dbusclient.NewMethodCall("/org/example/Slow", "Never",
		dbusclient.WithInterface("org.example.Slow"),
		dbusclient.WithCallTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = conn.SendRequest(call).Wait()
	require.Error(t, err)
	var derr *dbusclient.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dbusclient.CodeTimeout, derr.Code)
}

func TestSendRequestReturnsFutureWithoutBlocking(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.4")
	require.NoError(t, err)
	defer broker.Close()

	release := make(chan struct{})
	broker.Handle("org.example.Greeter", "Greet", func(call *dbusclient.Message) ([]dbusclient.DType, []dbusclient.Value, error) {
		<-release
		greeting, err := dbusclient.NewString("hi")
		if err != nil {
			return nil, nil, err
		}
		return []dbusclient.DType{dbusclient.TString}, []dbusclient.Value{greeting}, nil
	})

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	call, err := dbusclient.NewMethodCall("/org/example/Greeter", "Greet",
		dbusclient.WithInterface("org.example.Greeter"),
	)
	require.NoError(t, err)

	future := conn.SendRequest(call)
	select {
	case <-future.Done():
		t.Fatal("future resolved before the handler replied")
	default:
	}

	close(release)
	reply, err := future.Wait()
	require.NoError(t, err)
	s, ok := reply.Body[0].StringValue()
	require.True(t, ok)
	require.Equal(t, "hi", s)
}

func TestSendRequestContextCancellation(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.5")
	require.NoError(t, err)
	defer broker.Close()

	broker.Handle("org.example.Slow", "Never", func(call *dbusclient.Message) ([]dbusclient.DType, []dbusclient.Value, error) {
		time.Sleep(time.Second)
		return nil, nil, nil
	})

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	call, err := dbusclient.NewMethodCall("/org/example/Slow", "Never",
		dbusclient.WithInterface("org.example.Slow"),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	future := conn.SendRequestContext(ctx, call)
	cancel()

	_, err = future.Wait()
	require.Error(t, err)
	var derr *dbusclient.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dbusclient.CodeCanceled, derr.Code)
}

func TestSendRequestSurfacesRemoteError(t *testing.T) {
	broker, err := dbustest.NewBroker(":1.3")
	require.NoError(t, err)
	defer broker.Close()

	go broker.Serve()

	addr, err := broker.Addr()
	require.NoError(t, err)

	conn, err := dbusclient.Connect(addr)
	require.NoError(t, err)
	defer conn.Close()

	call, err := dbusclient.NewMethodCall("/org/example/Foo", "NoSuchMethod",
		dbusclient.WithInterface("org.example.Foo"),
	)
	require.NoError(t, err)

	_, err = conn.SendRequest(call).Wait()
	require.Error(t, err)
	var remote *dbusclient.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "org.freedesktop.DBus.Error.UnknownMethod", remote.Name)
}
