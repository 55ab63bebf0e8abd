// Package flows contains the orchestration behind every Gate operation.
//
// Each Run function takes a typed dependency struct and returns a Result
// whose Failure kind the root package maps onto its public error taxonomy.
// Flows hold no state between calls and never import the root package.
package flows
