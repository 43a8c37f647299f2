// Package audit stores the trail of security-relevant console activity:
// sign-ins, sign-outs, registrations and every user, role or menu mutation.
//
// Entries are append-only. The API layer queues them on a buffered channel
// and writes them serially, so a slow or failing audit write never blocks
// or fails the request that caused it.
package audit
