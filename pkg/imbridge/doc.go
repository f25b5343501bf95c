// Package imbridge issues and validates the one-time binding keys external
// IM platform adapters use to authorize calling message_send on behalf of
// a platform user. The daemon owns
// issuance and validation; speaking to the platform's own SDK is the
// adapter's job, an external collaborator this package never imports.
package imbridge
