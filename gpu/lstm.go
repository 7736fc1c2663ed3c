package gpu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// Gate order used by LSTMSpec arrays and the packed weight buffer
const (
	GateForget = iota
	GateInput
	GateCandidate
	GateOutput
)

const workgroupSize = 64

// LSTMSpec defines an LSTM forward run over a rectangular batch.
// Matrices are row-major. For peephole cells W[f|i|o] is [HiddenSize][2*HiddenSize+InputSize]
// over [c; h_prev; x] and U[f|i|o] is empty; the candidate gate always has W and U.
type LSTMSpec struct {
	InputSize  int
	HiddenSize int
	OutputSize int
	SeqLen     int
	BatchSize  int
	Peephole   bool

	W    [4][]float32
	U    [4][]float32
	B    [4][]float32
	Wout []float32 // [OutputSize * HiddenSize]
}

// Layout gives float offsets of every tensor inside the packed weight buffer
type Layout struct {
	W, U, B [4]int
	Wout    int
	Total   int
}

// wCols is the column count of gate k's W
func (s *LSTMSpec) wCols(k int) int {
	if s.Peephole && k != GateCandidate {
		return 2*s.HiddenSize + s.InputSize
	}
	return s.InputSize
}

func (s *LSTMSpec) hasU(k int) bool {
	return !s.Peephole || k == GateCandidate
}

// Validate checks every slice length against the declared sizes
func (s *LSTMSpec) Validate() error {
	if s.InputSize <= 0 || s.HiddenSize <= 0 || s.OutputSize <= 0 || s.SeqLen <= 0 || s.BatchSize <= 0 {
		return errors.Errorf("gpu: LSTM sizes must be positive: in=%d hidden=%d out=%d seq=%d batch=%d",
			s.InputSize, s.HiddenSize, s.OutputSize, s.SeqLen, s.BatchSize)
	}
	for k := 0; k < 4; k++ {
		if want := s.HiddenSize * s.wCols(k); len(s.W[k]) != want {
			return errors.Errorf("gpu: gate %d W has %d values, want %d", k, len(s.W[k]), want)
		}
		want := 0
		if s.hasU(k) {
			want = s.HiddenSize * s.HiddenSize
		}
		if len(s.U[k]) != want {
			return errors.Errorf("gpu: gate %d U has %d values, want %d", k, len(s.U[k]), want)
		}
		if len(s.B[k]) != s.HiddenSize {
			return errors.Errorf("gpu: gate %d bias has %d values, want %d", k, len(s.B[k]), s.HiddenSize)
		}
	}
	if len(s.Wout) != s.OutputSize*s.HiddenSize {
		return errors.Errorf("gpu: Wout has %d values, want %d", len(s.Wout), s.OutputSize*s.HiddenSize)
	}
	return nil
}

// Pack concatenates gate tensors (W, U, b per gate in f, i, c, o order) and
// Wout into one buffer and returns their offsets.
func (s *LSTMSpec) Pack() ([]float32, Layout) {
	var l Layout
	data := make([]float32, 0)
	for k := 0; k < 4; k++ {
		l.W[k] = len(data)
		data = append(data, s.W[k]...)
		l.U[k] = len(data)
		data = append(data, s.U[k]...)
		l.B[k] = len(data)
		data = append(data, s.B[k]...)
	}
	l.Wout = len(data)
	data = append(data, s.Wout...)
	l.Total = len(data)
	return data, l
}

// =============================================================================
// Shaders
// =============================================================================

// shaderCommon is shared by the cell and hidden stages. Every index is
// (batch * SEQ_LEN + step) * WIDTH + unit.
const shaderCommon = `
const INPUT_SIZE: u32 = {{INPUT_SIZE}}u;
const HIDDEN_SIZE: u32 = {{HIDDEN_SIZE}}u;
const BATCH_SIZE: u32 = {{BATCH_SIZE}}u;
const SEQ_LEN: u32 = {{SEQ_LEN}}u;
const PEEP_COLS: u32 = 2u * HIDDEN_SIZE + INPUT_SIZE;

fn sigmoid(v: f32) -> f32 {
	return 1.0 / (1.0 + exp(-v));
}

fn x_at(batch: u32, k: u32) -> f32 {
	return input[(batch * SEQ_LEN + t_step) * INPUT_SIZE + k];
}

fn h_prev(batch: u32, k: u32) -> f32 {
	if (t_step == 0u) {
		return 0.0;
	}
	return hidden[(batch * SEQ_LEN + t_step - 1u) * HIDDEN_SIZE + k];
}

fn c_at(batch: u32, k: u32, cur: bool) -> f32 {
	if (cur) {
		return cell[(batch * SEQ_LEN + t_step) * HIDDEN_SIZE + k];
	}
	if (t_step == 0u) {
		return 0.0;
	}
	return cell[(batch * SEQ_LEN + t_step - 1u) * HIDDEN_SIZE + k];
}

// W*x + U*h_prev + b
fn standard_pre(w: u32, u: u32, b: u32, batch: u32, j: u32) -> f32 {
	var acc: f32 = weights[b + j];
	for (var k: u32 = 0u; k < INPUT_SIZE; k++) {
		acc += weights[w + j * INPUT_SIZE + k] * x_at(batch, k);
	}
	for (var k: u32 = 0u; k < HIDDEN_SIZE; k++) {
		acc += weights[u + j * HIDDEN_SIZE + k] * h_prev(batch, k);
	}
	return acc;
}

// W*[c; h_prev; x] + b
fn peephole_pre(w: u32, b: u32, batch: u32, j: u32, cur: bool) -> f32 {
	var acc: f32 = weights[b + j];
	let row = w + j * PEEP_COLS;
	for (var k: u32 = 0u; k < HIDDEN_SIZE; k++) {
		acc += weights[row + k] * c_at(batch, k, cur);
	}
	for (var k: u32 = 0u; k < HIDDEN_SIZE; k++) {
		acc += weights[row + HIDDEN_SIZE + k] * h_prev(batch, k);
	}
	for (var k: u32 = 0u; k < INPUT_SIZE; k++) {
		acc += weights[row + 2u * HIDDEN_SIZE + k] * x_at(batch, k);
	}
	return acc;
}
`

// cellShader computes c_t = f ⊙ c_{t-1} + i ⊙ ĉ for every (batch, unit).
const cellShader = `
@group(0) @binding(0) var<storage, read> input : array<f32>;
@group(0) @binding(1) var<storage, read> hidden : array<f32>;
@group(0) @binding(2) var<storage, read_write> cell : array<f32>;
@group(0) @binding(3) var<storage, read> weights : array<f32>;
@group(0) @binding(4) var<uniform> t_step : u32;
{{COMMON}}
@compute @workgroup_size({{WORKGROUP}})
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let idx = gid.x;
	if (idx >= BATCH_SIZE * HIDDEN_SIZE) {
		return;
	}
	let batch = idx / HIDDEN_SIZE;
	let j = idx % HIDDEN_SIZE;

	let f = sigmoid({{FORGET_PRE}});
	let i = sigmoid({{INPUT_PRE}});
	let g = tanh({{CANDIDATE_PRE}});
	cell[(batch * SEQ_LEN + t_step) * HIDDEN_SIZE + j] = f * c_at(batch, j, false) + i * g;
}
`

// hiddenShader computes h_t = o ⊙ tanh(c_t). It runs after cellShader for the
// same step because the peephole output gate reads all of c_t.
const hiddenShader = `
@group(0) @binding(0) var<storage, read> input : array<f32>;
@group(0) @binding(1) var<storage, read_write> hidden : array<f32>;
@group(0) @binding(2) var<storage, read> cell : array<f32>;
@group(0) @binding(3) var<storage, read> weights : array<f32>;
@group(0) @binding(4) var<uniform> t_step : u32;
{{COMMON}}
@compute @workgroup_size({{WORKGROUP}})
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let idx = gid.x;
	if (idx >= BATCH_SIZE * HIDDEN_SIZE) {
		return;
	}
	let batch = idx / HIDDEN_SIZE;
	let j = idx % HIDDEN_SIZE;

	let o = sigmoid({{OUTPUT_PRE}});
	hidden[(batch * SEQ_LEN + t_step) * HIDDEN_SIZE + j] = o * tanh(c_at(batch, j, true));
}
`

// projectShader computes out_t = Wout · h_t for every (batch, step, output).
const projectShader = `
@group(0) @binding(0) var<storage, read> hidden : array<f32>;
@group(0) @binding(1) var<storage, read> weights : array<f32>;
@group(0) @binding(2) var<storage, read_write> output : array<f32>;

const HIDDEN_SIZE: u32 = {{HIDDEN_SIZE}}u;
const OUTPUT_SIZE: u32 = {{OUTPUT_SIZE}}u;
const ROWS: u32 = {{ROWS}}u;
const WOUT: u32 = {{WOUT}}u;

@compute @workgroup_size({{WORKGROUP}})
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let idx = gid.x;
	if (idx >= ROWS * OUTPUT_SIZE) {
		return;
	}
	let row = idx / OUTPUT_SIZE;
	let k = idx % OUTPUT_SIZE;

	var acc: f32 = 0.0;
	for (var j: u32 = 0u; j < HIDDEN_SIZE; j++) {
		acc += weights[WOUT + k * HIDDEN_SIZE + j] * hidden[row * HIDDEN_SIZE + j];
	}
	output[idx] = acc;
}
`

// gatePre returns the WGSL pre-activation expression for gate k.
func (s *LSTMSpec) gatePre(k int, l Layout) string {
	w, u, b := strconv.Itoa(l.W[k])+"u", strconv.Itoa(l.U[k])+"u", strconv.Itoa(l.B[k])+"u"
	if !s.hasU(k) {
		return fmt.Sprintf("peephole_pre(%s, %s, batch, j, %t)", w, b, k == GateOutput)
	}
	return fmt.Sprintf("standard_pre(%s, %s, %s, batch, j)", w, u, b)
}

func (s *LSTMSpec) replacer(l Layout) *strings.Replacer {
	itoa := strconv.Itoa
	common := strings.NewReplacer(
		"{{INPUT_SIZE}}", itoa(s.InputSize),
		"{{HIDDEN_SIZE}}", itoa(s.HiddenSize),
		"{{BATCH_SIZE}}", itoa(s.BatchSize),
		"{{SEQ_LEN}}", itoa(s.SeqLen),
	).Replace(shaderCommon)
	return strings.NewReplacer(
		"{{COMMON}}", common,
		"{{WORKGROUP}}", itoa(workgroupSize),
		"{{FORGET_PRE}}", s.gatePre(GateForget, l),
		"{{INPUT_PRE}}", s.gatePre(GateInput, l),
		"{{CANDIDATE_PRE}}", s.gatePre(GateCandidate, l),
		"{{OUTPUT_PRE}}", s.gatePre(GateOutput, l),
		"{{HIDDEN_SIZE}}", itoa(s.HiddenSize),
		"{{OUTPUT_SIZE}}", itoa(s.OutputSize),
		"{{ROWS}}", itoa(s.BatchSize*s.SeqLen),
		"{{WOUT}}", itoa(l.Wout),
	)
}

// GenerateShaders returns the WGSL source of the cell, hidden and projection stages
func (s *LSTMSpec) GenerateShaders(l Layout) (cell, hidden, project string) {
	r := s.replacer(l)
	return r.Replace(cellShader), r.Replace(hiddenShader), r.Replace(projectShader)
}

// =============================================================================
// Layer
// =============================================================================

// LSTMLayer holds GPU resources for one forward run.
// Each timestep dispatches the cell stage then the hidden stage; the
// projection runs once over every (batch, step) after the recurrence.
type LSTMLayer struct {
	Spec LSTMSpec

	InputBuffer   *wgpu.Buffer   // [BatchSize * SeqLen * InputSize]
	HiddenBuffer  *wgpu.Buffer   // [BatchSize * SeqLen * HiddenSize]
	CellBuffer    *wgpu.Buffer   // [BatchSize * SeqLen * HiddenSize]
	OutputBuffer  *wgpu.Buffer   // [BatchSize * SeqLen * OutputSize]
	WeightsBuffer *wgpu.Buffer   // packed, see Layout
	StepBuffers   []*wgpu.Buffer // one u32 uniform per timestep

	cellPipeline    *wgpu.ComputePipeline
	hiddenPipeline  *wgpu.ComputePipeline
	projectPipeline *wgpu.ComputePipeline

	cellBindGroups   []*wgpu.BindGroup
	hiddenBindGroups []*wgpu.BindGroup
	projectBindGroup *wgpu.BindGroup

	layout Layout
}

// AllocateBuffers creates every buffer and uploads the packed weights
func (l *LSTMLayer) AllocateBuffers(c *Context, labelPrefix string) error {
	s := &l.Spec
	rows := s.BatchSize * s.SeqLen
	var err error

	if l.InputBuffer, err = newStorageBuffer(c, labelPrefix+"_In", rows*s.InputSize); err != nil {
		return err
	}
	if l.HiddenBuffer, err = newStorageBuffer(c, labelPrefix+"_Hidden", rows*s.HiddenSize); err != nil {
		return err
	}
	if l.CellBuffer, err = newStorageBuffer(c, labelPrefix+"_Cell", rows*s.HiddenSize); err != nil {
		return err
	}
	if l.OutputBuffer, err = newStorageBuffer(c, labelPrefix+"_Out", rows*s.OutputSize); err != nil {
		return err
	}

	var packed []float32
	packed, l.layout = s.Pack()
	if l.WeightsBuffer, err = NewFloatBuffer(c, labelPrefix+"_Weights", packed, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}

	l.StepBuffers = make([]*wgpu.Buffer, s.SeqLen)
	for step := 0; step < s.SeqLen; step++ {
		l.StepBuffers[step], err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("%s_Step%d", labelPrefix, step),
			Size:  4,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return errors.Wrapf(err, "create step buffer %d", step)
		}
		c.Queue.WriteBuffer(l.StepBuffers[step], 0, wgpu.ToBytes([]uint32{uint32(step)}))
	}
	return nil
}

func compilePipeline(c *Context, label, code string) (*wgpu.ComputePipeline, error) {
	mod, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "compile %s", label)
	}
	defer mod.Release()
	pipe, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %s", label)
	}
	return pipe, nil
}

// Compile builds the three compute pipelines
func (l *LSTMLayer) Compile(c *Context, labelPrefix string) error {
	cellSrc, hiddenSrc, projectSrc := l.Spec.GenerateShaders(l.layout)
	var err error
	if l.cellPipeline, err = compilePipeline(c, labelPrefix+"_Cell", cellSrc); err != nil {
		return err
	}
	if l.hiddenPipeline, err = compilePipeline(c, labelPrefix+"_Hidden", hiddenSrc); err != nil {
		return err
	}
	l.projectPipeline, err = compilePipeline(c, labelPrefix+"_Project", projectSrc)
	return err
}

// CreateBindGroups binds buffers to every pipeline, one group per timestep
// for the recurrent stages.
func (l *LSTMLayer) CreateBindGroups(c *Context, labelPrefix string) error {
	entry := func(binding uint32, b *wgpu.Buffer) wgpu.BindGroupEntry {
		return wgpu.BindGroupEntry{Binding: binding, Buffer: b, Size: b.GetSize()}
	}
	l.cellBindGroups = make([]*wgpu.BindGroup, l.Spec.SeqLen)
	l.hiddenBindGroups = make([]*wgpu.BindGroup, l.Spec.SeqLen)
	var err error
	for step := 0; step < l.Spec.SeqLen; step++ {
		l.cellBindGroups[step], err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("%s_CellBind%d", labelPrefix, step),
			Layout: l.cellPipeline.GetBindGroupLayout(0),
			Entries: []wgpu.BindGroupEntry{
				entry(0, l.InputBuffer),
				entry(1, l.HiddenBuffer),
				entry(2, l.CellBuffer),
				entry(3, l.WeightsBuffer),
				entry(4, l.StepBuffers[step]),
			},
		})
		if err != nil {
			return errors.Wrapf(err, "cell bind group %d", step)
		}
		l.hiddenBindGroups[step], err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("%s_HiddenBind%d", labelPrefix, step),
			Layout: l.hiddenPipeline.GetBindGroupLayout(0),
			Entries: []wgpu.BindGroupEntry{
				entry(0, l.InputBuffer),
				entry(1, l.HiddenBuffer),
				entry(2, l.CellBuffer),
				entry(3, l.WeightsBuffer),
				entry(4, l.StepBuffers[step]),
			},
		})
		if err != nil {
			return errors.Wrapf(err, "hidden bind group %d", step)
		}
	}
	l.projectBindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_ProjectBind",
		Layout: l.projectPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			entry(0, l.HiddenBuffer),
			entry(1, l.WeightsBuffer),
			entry(2, l.OutputBuffer),
		},
	})
	return errors.Wrap(err, "project bind group")
}

// Dispatch records the whole forward run into pass.
// Steps are sequential; units and sequences run in parallel within a step.
func (l *LSTMLayer) Dispatch(pass *wgpu.ComputePassEncoder) {
	units := uint32(l.Spec.BatchSize * l.Spec.HiddenSize)
	wg := (units + workgroupSize - 1) / workgroupSize
	for step := 0; step < l.Spec.SeqLen; step++ {
		pass.SetPipeline(l.cellPipeline)
		pass.SetBindGroup(0, l.cellBindGroups[step], nil)
		pass.DispatchWorkgroups(wg, 1, 1)

		pass.SetPipeline(l.hiddenPipeline)
		pass.SetBindGroup(0, l.hiddenBindGroups[step], nil)
		pass.DispatchWorkgroups(wg, 1, 1)
	}

	outputs := uint32(l.Spec.BatchSize * l.Spec.SeqLen * l.Spec.OutputSize)
	pass.SetPipeline(l.projectPipeline)
	pass.SetBindGroup(0, l.projectBindGroup, nil)
	pass.DispatchWorkgroups((outputs+workgroupSize-1)/workgroupSize, 1, 1)
}

// Cleanup releases every GPU resource held by the layer
func (l *LSTMLayer) Cleanup() {
	for _, b := range append([]*wgpu.Buffer{
		l.InputBuffer, l.HiddenBuffer, l.CellBuffer, l.OutputBuffer, l.WeightsBuffer,
	}, l.StepBuffers...) {
		if b != nil {
			b.Destroy()
		}
	}
	for _, bg := range append(append([]*wgpu.BindGroup{l.projectBindGroup}, l.cellBindGroups...), l.hiddenBindGroups...) {
		if bg != nil {
			bg.Release()
		}
	}
	for _, p := range []*wgpu.ComputePipeline{l.cellPipeline, l.hiddenPipeline, l.projectPipeline} {
		if p != nil {
			p.Release()
		}
	}
}

// RunLSTMForward executes spec over input ([BatchSize][SeqLen][InputSize],
// flattened) and returns [BatchSize][SeqLen][OutputSize], flattened.
func RunLSTMForward(spec LSTMSpec, input []float32) ([]float32, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if want := spec.BatchSize * spec.SeqLen * spec.InputSize; len(input) != want {
		return nil, errors.Errorf("gpu: input has %d values, want %d", len(input), want)
	}
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	l := &LSTMLayer{Spec: spec}
	defer l.Cleanup()
	if err := l.AllocateBuffers(c, "lstm"); err != nil {
		return nil, err
	}
	if err := l.Compile(c, "lstm"); err != nil {
		return nil, err
	}
	if err := l.CreateBindGroups(c, "lstm"); err != nil {
		return nil, err
	}
	c.Queue.WriteBuffer(l.InputBuffer, 0, wgpu.ToBytes(input))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create command encoder")
	}
	pass := enc.BeginComputePass(nil)
	l.Dispatch(pass)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, errors.Wrap(err, "command encoder finish")
	}
	c.Queue.Submit(cmd)

	return ReadBuffer(c, l.OutputBuffer, spec.BatchSize*spec.SeqLen*spec.OutputSize)
}
