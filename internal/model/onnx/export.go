// Package onnx exports a fitted pipeline as an ONNX graph so other runtimes
// can score with it. The graph standardizes the input, averages leaf path
// lengths over the forest and applies the same score and offset arithmetic
// as the native detector.
package onnx

import (
	"fmt"
	"io"

	"auditrisk/internal/fileutil"
	"auditrisk/internal/model"
	"auditrisk/internal/model/iforest"
	"auditrisk/internal/schema"
)

const (
	irVersion     = 7
	defaultOpset  = 12
	mlOpset       = 3
	mlDomain      = "ai.onnx.ml"
	producerName  = "auditrisk"
	InputName     = "float_input"
	LabelOutput   = "label"
	ScoresOutput  = "scores"
	batchDimParam = "N"
)

// Export encodes the pipeline as an ONNX ModelProto.
func Export(p *model.Pipeline) ([]byte, error) {
	if p == nil || p.Scaler == nil || p.Detector == nil {
		return nil, model.ErrModelUnavailable
	}
	forest, ok := p.Detector.(*iforest.Forest)
	if !ok {
		return nil, fmt.Errorf("onnx export: unsupported detector %T", p.Detector)
	}
	s, err := schema.Lookup(p.Version)
	if err != nil {
		return nil, err
	}
	features := int64(s.Len())

	offset := make([]float32, len(p.Scaler.Mean))
	scale := make([]float32, len(p.Scaler.Scale))
	for i := range offset {
		offset[i] = float32(p.Scaler.Mean[i])
		scale[i] = float32(1 / p.Scaler.Scale[i])
	}

	ens := flatten(forest)
	c := iforest.AveragePathLength(forest.SampleSize)

	nodes := []msg{
		node("Scaler", mlDomain, "scaler", []string{InputName}, []string{"scaled"},
			attrFloatList("offset", offset),
			attrFloatList("scale", scale),
		),
		node("TreeEnsembleRegressor", mlDomain, "path_length", []string{"scaled"}, []string{"mean_depth"},
			attrString("aggregate_function", "AVERAGE"),
			attrInt("n_targets", 1),
			attrIntList("nodes_falsenodeids", ens.falseIDs),
			attrIntList("nodes_featureids", ens.featureIDs),
			attrStringList("nodes_modes", ens.modes),
			attrIntList("nodes_nodeids", ens.nodeIDs),
			attrIntList("nodes_treeids", ens.treeIDs),
			attrIntList("nodes_truenodeids", ens.trueIDs),
			attrFloatList("nodes_values", ens.values),
			attrString("post_transform", "NONE"),
			attrIntList("target_ids", ens.targetIDs),
			attrIntList("target_nodeids", ens.targetNodeIDs),
			attrIntList("target_treeids", ens.targetTreeIDs),
			attrFloatList("target_weights", ens.targetWeights),
		),
		node("Mul", "", "depth_ratio", []string{"mean_depth", "neg_inv_c"}, []string{"exponent"}),
		node("Pow", "", "isolation", []string{"two", "exponent"}, []string{"anomaly_score"}),
		node("Neg", "", "score_samples", []string{"anomaly_score"}, []string{"score_samples"}),
		node("Sub", "", "decision", []string{"score_samples", "offset"}, []string{ScoresOutput}),
		node("Less", "", "is_outlier", []string{ScoresOutput, "zero"}, []string{"is_outlier"}),
		node("Where", "", "label_2d", []string{"is_outlier", "minus_one", "plus_one"}, []string{"label_2d"}),
		node("Reshape", "", "label", []string{"label_2d", "flat"}, []string{LabelOutput}),
	}

	initializers := []msg{
		floatTensor("neg_inv_c", []int64{1}, []float32{float32(-1 / c)}),
		floatTensor("two", []int64{1}, []float32{2}),
		floatTensor("offset", []int64{1}, []float32{float32(forest.Offset)}),
		floatTensor("zero", []int64{1}, []float32{0}),
		int64Tensor("minus_one", []int64{1}, []int64{-1}),
		int64Tensor("plus_one", []int64{1}, []int64{1}),
		int64Tensor("flat", []int64{1}, []int64{-1}),
	}

	graph := msg(nil)
	for _, n := range nodes {
		graph = graph.bytes(graphNode, n)
	}
	graph = graph.str(graphName, "auditrisk_"+string(p.Version))
	for _, t := range initializers {
		graph = graph.bytes(graphInitializer, t)
	}
	graph = graph.bytes(graphInput, valueInfo(InputName, elemFloat, dim{param: batchDimParam}, dim{value: features}))
	graph = graph.bytes(graphOutput, valueInfo(LabelOutput, elemInt64, dim{param: batchDimParam}))
	graph = graph.bytes(graphOutput, valueInfo(ScoresOutput, elemFloat, dim{param: batchDimParam}, dim{value: 1}))

	m := msg(nil).
		varint(modelIRVersion, irVersion).
		str(modelProducerName, producerName).
		str(modelProducerVer, "1").
		str(modelDomain, "auditrisk").
		varint(modelVersion, 1).
		str(modelDocString, "isolation forest over "+string(p.Version)).
		bytes(modelGraph, graph).
		bytes(modelOpsetImport, opset("", defaultOpset)).
		bytes(modelOpsetImport, opset(mlDomain, mlOpset)).
		bytes(modelMetadataProps, stringEntry("schema_version", string(p.Version))).
		bytes(modelMetadataProps, stringEntry("run_id", p.RunID))
	for i, name := range s.Names() {
		m = m.bytes(modelMetadataProps, stringEntry(fmt.Sprintf("feature_%02d", i), name))
	}
	return m, nil
}

// Save exports the pipeline to path atomically.
func Save(path string, p *model.Pipeline) error {
	blob, err := Export(p)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(blob)
		return err
	})
}

type ensemble struct {
	treeIDs, nodeIDs, featureIDs, trueIDs, falseIDs []int64
	values                                          []float32
	modes                                           []string

	targetTreeIDs, targetNodeIDs, targetIDs []int64
	targetWeights                           []float32
}

// flatten lays every tree out in the TreeEnsembleRegressor attribute form.
// BRANCH_LT sends x < split to the true branch, matching Tree.PathLength.
// Each leaf carries its full adjusted path length as the target weight.
func flatten(f *iforest.Forest) ensemble {
	var e ensemble
	for t := range f.Trees {
		tree := &f.Trees[t]
		depth := make([]int, len(tree.Nodes))
		for i, n := range tree.Nodes {
			e.treeIDs = append(e.treeIDs, int64(t))
			e.nodeIDs = append(e.nodeIDs, int64(i))
			if n.Left < 0 {
				e.featureIDs = append(e.featureIDs, 0)
				e.values = append(e.values, 0)
				e.modes = append(e.modes, "LEAF")
				e.trueIDs = append(e.trueIDs, 0)
				e.falseIDs = append(e.falseIDs, 0)

				e.targetTreeIDs = append(e.targetTreeIDs, int64(t))
				e.targetNodeIDs = append(e.targetNodeIDs, int64(i))
				e.targetIDs = append(e.targetIDs, 0)
				e.targetWeights = append(e.targetWeights, float32(float64(depth[i])+iforest.AveragePathLength(n.Size)))
				continue
			}
			depth[n.Left] = depth[i] + 1
			depth[n.Right] = depth[i] + 1
			e.featureIDs = append(e.featureIDs, int64(n.Feature))
			e.values = append(e.values, float32(n.Split))
			e.modes = append(e.modes, "BRANCH_LT")
			e.trueIDs = append(e.trueIDs, int64(n.Left))
			e.falseIDs = append(e.falseIDs, int64(n.Right))
		}
	}
	return e
}
