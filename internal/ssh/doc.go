// ssh provides the remote-access layer for the bake pipeline: establishing
// SSH connections to freshly launched instances, executing provisioning
// commands, and uploading the Chef payload and acceptance test files over
// SFTP.
package ssh
