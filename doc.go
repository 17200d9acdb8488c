// Package hsuanwu provides the environment and action
// space primitives shared by the IMPALA actor-learner
// framework in the impala sub-package.
package hsuanwu
