// Package nn implements LSTM cells (standard and peephole), a sequence scan
// that threads (h, c) across timesteps, a batch executor and a
// backpropagation-through-time gradient engine for the batch MSE.
//
// Standard gates, for g in {f, i, o}:
//   - g_t = sigmoid(U_g·h_{t-1} + W_g·x_t + b_g)
//   - ĉ_t = tanh(U_c·h_{t-1} + W_c·x_t + b_c)
//
// Peephole gates read the cell state through one W over a concatenation:
//   - f_t = sigmoid(W_f·[c_{t-1}; h_{t-1}; x_t] + b_f)
//   - i_t = sigmoid(W_i·[c_{t-1}; h_{t-1}; x_t] + b_i)
//   - o_t = sigmoid(W_o·[c_t; h_{t-1}; x_t] + b_o)
//
// Both variants then update c_t = f_t ⊙ c_{t-1} + i_t ⊙ ĉ_t,
// h_t = o_t ⊙ tanh(c_t) and emit out_t = Wout·h_t.
//
// Example usage:
//
//	cell, _ := nn.NewCell(nn.Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}, nn.VariantStandard)
//	params, _ := nn.InitParams(cell.Architecture(), cell.Variant(), rand.New(rand.NewSource(1)))
//	exec := nn.NewExecutor(cell)
//
//	outputs, _ := exec.Forward(params, batch)
//	grad, loss, _ := exec.Gradients(params, batch, targets)
package nn
