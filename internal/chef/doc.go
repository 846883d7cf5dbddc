// chef assembles the provisioning payload shipped to a launched instance:
// a checkout of the cookbook repository at a requested branch, vendored
// cookbook dependencies, a tarball of the convergence inputs, a rendered
// solo.rb and the JSON attributes/run-list document handed to chef-solo.
//
// The git and berks invocations shell out to the locally installed tools;
// both are treated as opaque externals and any non-zero exit is fatal to
// the build.
package chef
