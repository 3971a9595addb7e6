// Package service implements the application use cases on top of the
// domain and store layers: project lifecycle management (creation,
// uploads, status aggregation, result retrieval, deletion with storage
// cleanup) and processing orchestration (the synchronous example path
// and background inference / polygonization submissions).
//
// Services receive their dependencies through constructors and depend
// only on the store interfaces and capability interfaces for engines,
// blob storage and scheduling, never on concrete infrastructure.
package service
