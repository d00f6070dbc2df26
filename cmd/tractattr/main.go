package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frheault/scilpy/pkg/attributes"
	"github.com/frheault/scilpy/pkg/config"
	"github.com/frheault/scilpy/pkg/tractogram"
	"github.com/frheault/scilpy/pkg/visualization"
	"github.com/frheault/scilpy/pkg/volume"
)

func main() {
	// Parse command line arguments
	mode := flag.String("mode", "", "Operation to run: dps-to-dpp, dpp-to-dps, dpp-math, project-map, project-dpp, endpoint-correlation")
	tractPath := flag.String("tractogram", "", "Input tractogram (.trk)")
	mapPath := flag.String("map", "", "Input volumetric map (.nii), for project-map")
	keys := flag.String("keys", "", "Comma-separated attribute keys to operate on")
	outKey := flag.String("out-key", "", "Key to store the result under (defaults to the input key)")
	opName := flag.String("op", "mean", fmt.Sprintf("Reduction operator: %s", strings.Join(attributes.OperationNames(), ", ")))
	endpointsOnly := flag.Bool("endpoints-only", false, "Operate on streamline endpoints only")
	sumLines := flag.Bool("sum-lines", false, "Sum values of streamlines crossing a voxel instead of averaging (project-dpp)")
	overwrite := flag.Bool("overwrite", false, "Allow replacing an existing attribute key")
	outputPath := flag.String("output", "", "Output file (.trk for attribute modes, .nii for project-dpp)")
	saveSlices := flag.Bool("save-slices", false, "Also save the projected map as slice images along all axes (project-dpp)")
	slicesDir := flag.String("slices-dir", "", "Directory to save slice images (default from config)")
	configPath := flag.String("config", "tractattr.yaml", "Configuration file")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Wrote default configuration to: %s\n", *configPath)
		return
	}

	// Validate inputs
	if *mode == "" || *tractPath == "" || *outputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *slicesDir == "" {
		*slicesDir = cfg.Output.SlicesDir
	}
	if cfg.Processing.EndpointsOnly {
		*endpointsOnly = true
	}
	if cfg.Processing.Overwrite {
		*overwrite = true
	}

	if cfg.Output.Verbose {
		fmt.Println("================================")
		fmt.Println("TRACTOGRAM ATTRIBUTE PROCESSING")
		fmt.Println("================================")
	}

	fmt.Printf("Loading tractogram: %s\n", *tractPath)
	startTime := time.Now()
	sft, err := tractogram.LoadTRK(*tractPath)
	if err != nil {
		log.Fatalf("Failed to load tractogram: %v", err)
	}
	fmt.Printf("Loaded %d streamlines\n", sft.Len())

	keyList := splitKeys(*keys)

	switch *mode {
	case "dps-to-dpp":
		if len(keyList) == 0 {
			log.Fatalf("dps-to-dpp requires -keys")
		}
		fmt.Printf("Converting %d dps key(s) to dpp...\n", len(keyList))
		if _, err := attributes.ConvertDPSToDPP(sft, keyList, *overwrite); err != nil {
			log.Fatalf("Conversion failed: %v", err)
		}
		saveTractogram(sft, *outputPath)

	case "dpp-to-dps":
		key := singleKey(keyList)
		fmt.Printf("Reducing dpp key %q to dps with %s...\n", key, *opName)
		values, err := attributes.PerformOperationDPPToDPS(*opName, sft, key, *endpointsOnly)
		if err != nil {
			log.Fatalf("Reduction failed: %v", err)
		}
		sft.DataPerStreamline[resultKey(*outKey, key)] = values
		delete(sft.DataPerPoint, key)
		saveTractogram(sft, *outputPath)

	case "dpp-math":
		key := singleKey(keyList)
		fmt.Printf("Applying %s to each point of dpp key %q...\n", *opName, key)
		values, err := attributes.PerformOperationOnDPP(*opName, sft, key, *endpointsOnly)
		if err != nil {
			log.Fatalf("Operation failed: %v", err)
		}
		target := resultKey(*outKey, key)
		if _, exists := sft.DataPerPoint[target]; exists && target != key && !*overwrite {
			log.Fatalf("Dpp key %q already exists (pass -overwrite to replace it)", target)
		}
		sft.DataPerPoint[target] = values
		saveTractogram(sft, *outputPath)

	case "project-map":
		if *mapPath == "" {
			log.Fatalf("project-map requires -map")
		}
		if *outKey == "" {
			log.Fatalf("project-map requires -out-key")
		}
		fmt.Printf("Loading map: %s\n", *mapPath)
		vol, err := volume.LoadNIfTI(*mapPath)
		if err != nil {
			log.Fatalf("Failed to load map: %v", err)
		}
		if vol.Interp, err = volume.ParseInterpolation(cfg.Processing.Interpolation); err != nil {
			log.Fatalf("Bad configuration: %v", err)
		}
		fmt.Println("Projecting map onto streamline points...")
		values, err := attributes.ProjectMapToStreamlines(sft, vol, *endpointsOnly)
		if err != nil {
			log.Fatalf("Projection failed: %v", err)
		}
		if _, exists := sft.DataPerPoint[*outKey]; exists && !*overwrite {
			log.Fatalf("Dpp key %q already exists (pass -overwrite to replace it)", *outKey)
		}
		sft.DataPerPoint[*outKey] = values
		saveTractogram(sft, *outputPath)

	case "project-dpp":
		key := singleKey(keyList)
		fmt.Printf("Projecting dpp key %q onto the voxel grid...\n", key)
		theMap, err := attributes.ProjectDPPToMap(sft, key, *sumLines, *endpointsOnly)
		if err != nil {
			log.Fatalf("Projection failed: %v", err)
		}
		fmt.Printf("Saving map to: %s\n", *outputPath)
		if err := theMap.SaveNIfTI(*outputPath); err != nil {
			log.Fatalf("Failed to save map: %v", err)
		}
		if *saveSlices || cfg.Output.SaveSlices {
			fmt.Println("Extracting map slices along all axes...")
			viewer := visualization.NewViewer(theMap)
			for _, axis := range []string{"x", "y", "z"} {
				axisDir := filepath.Join(*slicesDir, axis)
				fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
				if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
					log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
				}
			}
		}

	case "endpoint-correlation":
		key := singleKey(keyList)
		fmt.Printf("Computing endpoint %s for dpp key %q...\n", *opName, key)
		values, err := attributes.PerformPairwiseOperationOnEndpoints(*opName, sft, key)
		if err != nil {
			log.Fatalf("Operation failed: %v", err)
		}
		perStreamline := make([][]float64, len(values))
		for i, v := range values {
			perStreamline[i] = []float64{v}
		}
		sft.DataPerStreamline[resultKey(*outKey, key)] = perStreamline
		delete(sft.DataPerPoint, key)
		saveTractogram(sft, *outputPath)

	default:
		log.Fatalf("Unknown mode %q", *mode)
	}

	fmt.Printf("\nDone in %.2f seconds\n", time.Since(startTime).Seconds())
}

// splitKeys parses the comma-separated -keys flag.
func splitKeys(keys string) []string {
	if keys == "" {
		return nil
	}
	parts := strings.Split(keys, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// singleKey enforces the one-key-per-call contract of the non-conversion modes.
func singleKey(keys []string) string {
	if len(keys) != 1 {
		log.Fatalf("This mode requires exactly one key in -keys, got %d", len(keys))
	}
	return keys[0]
}

func resultKey(outKey, key string) string {
	if outKey != "" {
		return outKey
	}
	return key
}

func saveTractogram(sft *tractogram.Tractogram, path string) {
	fmt.Printf("Saving tractogram to: %s\n", path)
	if err := sft.SaveTRK(path); err != nil {
		log.Fatalf("Failed to save tractogram: %v", err)
	}
}
