// bake implements the AMI build pipeline.
//
// # Overview
//
// A build launches an EC2 instance from a base AMI, waits for it to become
// reachable over SSH, provisions it with a chef-solo run, optionally executes
// an acceptance test on the instance, snapshots the instance into a new AMI,
// and terminates the instance.
//
// Lifecycle: Launch -> AwaitConnectivity -> Provision -> AcceptanceTest
// (optional) -> SnapshotImage -> Cleanup.
//
// Control flows strictly top to bottom. Any step's fatal failure
// short-circuits directly to cleanup; there is no retry of a failed step
// beyond the bounded polling each step itself performs.
//
// # Cleanup
//
// Destructors are queued on a LIFO stack immediately after their resource is
// created, and the stack is destroyed on every exit path: normal completion,
// fatal abort, or signal interruption. Destructor errors are joined and
// reported but never mask the original failure. Instance termination honors
// the terminate flag; removal of the local working directory is
// unconditional.
package bake
