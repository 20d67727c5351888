/*
Package client joins a jim relay and runs an interactive session on it.

Dial performs the presence handshake. Session.Run then reads commands from a
Frontend and shows incoming messages on it until the user exits:

	s, err := client.Dial(client.DefaultConfig("alice"))
	if err != nil {
		// ErrRejected when the name is taken
	}
	err = s.Run(ctx, client.NewLines(os.Stdin, os.Stdout))
*/
package client
