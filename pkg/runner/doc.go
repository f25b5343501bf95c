// Package runner supervises agent child processes. It owns two runner
// variants — a PTY-attached process with a rolling transcript and text
// injection, and a headless actor tracked only by heartbeat — behind one
// lifecycle state machine, and mediates every injection the delivery
// engine decides to push.
package runner
