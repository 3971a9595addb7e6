// Package domain contains the core entities of the inference service:
// projects, their tasks and uploaded images, the status state machines
// governing them, and the parameter types for inference and
// polygonization. It is independent of any storage or delivery mechanism.
package domain
