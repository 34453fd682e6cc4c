// Package loss implements the Local Aggregation objective over a memory bank.
//
// For every sample i of a batch, with fresh embedding e_i and bank snapshot
// rows m_j:
//
//	B_i = k nearest snapshot rows of i (background neighbours)
//	C_i = samples sharing i's label in at least one clustering repeat
//	P_i = B_i ∩ C_i (positives)
//	loss_i = -log( Σ_{j∈P_i} exp(<e_i,m_j>/τ) / Σ_{j∈B_i} exp(<e_i,m_j>/τ) )
//
// The batch loss is the mean of loss_i, computed as the difference of two
// log-sum-exps, each shifted by the largest exponent of its own set. Only the
// background sum is floored at Epsilon. Since P_i ⊆ B_i the loss is never
// negative, and it is zero when P_i = B_i.
//
// A sample whose positive set is empty contributes zero loss and zero
// gradient; Result.EmptyPositives counts them.
//
// Go has no autodiff, so Compute returns the analytic gradient of the batch
// loss with respect to the fresh embeddings:
//
//	∂L/∂e_i = 1/(|batch|·τ) · ( Σ_{B_i} q_j m_j − Σ_{P_i} p_j m_j )
//
// where q and p are the softmax weights over B_i and P_i. The snapshot, the
// neighbour sets and the cluster assignment are constants of the loss.
//
// Compute never touches the bank. Commit applies the deferred exponential
// mixing of the batch embeddings once the optimizer step is done.
package loss
