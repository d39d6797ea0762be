package config

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestLoadFromReader_MergesOntoDefaults(t *testing.T) {
	is := is.New(t)
	cfg, err := LoadFromReader(strings.NewReader(`
model_path: /models/wenet.onnx
dict_path: /models/dict.txt
port: 9000
`))
	is.NoErr(err)
	is.Equal(cfg.Port, 9000)
	is.Equal(cfg.ModelPath, "/models/wenet.onnx")
	is.Equal(cfg.NBest, 1)        // default preserved
	is.Equal(cfg.ChunkSize, 16)   // default preserved
	is.Equal(cfg.ContextScore, 3.0)
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	is := is.New(t)
	_, err := LoadFromReader(strings.NewReader("model_path: /x\nbogus_field: 1\n"))
	is.True(err != nil)
}

func TestValidate_RequiresModelPath(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	err := Validate(&cfg)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "model_path"))
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.ModelPath = "/x"
	cfg.Port = 70000
	err := Validate(&cfg)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "port"))
}

func TestValidate_PassesWithModelPathSet(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.ModelPath = "/models/wenet.onnx"
	is.NoErr(Validate(&cfg))
}

func TestDefault_CarriesConformerMetadataDefaults(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	is.Equal(cfg.SubsamplingRate, 4)
	is.Equal(cfg.FeatureDim, 80)
}

func TestValidate_RejectsNonPositiveSubsamplingRate(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.ModelPath = "/x"
	cfg.SubsamplingRate = 0
	err := Validate(&cfg)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "subsampling_rate"))
}

func TestValidate_ContextScoreRequiredWithContextPath(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.ModelPath = "/x"
	cfg.ContextPath = "/context.txt"
	cfg.ContextScore = 0
	err := Validate(&cfg)
	is.True(err != nil)
}
