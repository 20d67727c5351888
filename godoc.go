/*
Package jimchat is a text chat relay speaking the JIM protocol: clients
register a unique account name with the server, then exchange addressed
messages that the server forwards.

jim subdirectory contains the wire format and knows nothing about sockets.

relay subdirectory contains the server loop and knows nothing about
persistence.

client subdirectory contains the client session used by cmd/jim-client.

store subdirectory contains the BadgerDB record of users, logins and contacts.

The Journal type is the glue between the relay and the store.
*/
package jimchat
