// Package nn holds the minimal neural-network pieces the trainer needs:
// dense tensors, named parameters with gradients, state dicts and a linear
// patch encoder whose output lives on the unit hypersphere.
//
// The encoder is deliberately small. Anything implementing the trainer's
// Encoder interface can replace it.
package nn
