package internal

// Version is the current release of the client.
const Version = "0.1.0"
