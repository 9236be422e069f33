package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	baseURL = "http://localhost:8080"
)

var dataset = map[string]interface{}{
	"images": []map[string]interface{}{
		{"id": 1, "width": 640, "height": 480, "file_name": "smoke_0001.jpg"},
		{"id": 2, "width": 800, "height": 600, "file_name": "smoke_0002.jpg"},
	},
	"annotations": []map[string]interface{}{
		{"id": 1, "image_id": 1, "category_id": 1, "bbox": []float64{100, 50, 200, 150}, "area": 30000,
			"segmentation": [][]float64{{100, 50, 300, 50, 300, 200, 100, 200}}},
		{"id": 2, "image_id": 2, "category_id": 2, "bbox": []float64{10, 10, 80, 40}, "area": 3200},
	},
	"categories": []map[string]interface{}{
		{"id": 1, "name": "person"},
		{"id": 2, "name": "car"},
	},
}

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	datasetID := fmt.Sprintf("smoke-%d", time.Now().Unix())

	// 1. Import
	fmt.Println("1. Importing COCO dataset...")
	if _, ok := sendRequest("POST", "/datasets/"+datasetID+"/coco?group=val", dataset); !ok {
		fmt.Println("FAILED: Import dataset")
		os.Exit(1)
	}
	fmt.Println("PASSED: Import dataset")

	// 2. Export
	fmt.Println("2. Exporting COCO dataset...")
	restored, ok := sendRequest("GET", "/datasets/"+datasetID+"/coco", nil)
	if !ok {
		fmt.Println("FAILED: Export dataset")
		os.Exit(1)
	}
	fmt.Println("PASSED: Export dataset")

	// 3. Verify
	fmt.Println("3. Verifying round trip...")
	body, ok := sendRequest("POST", "/verify", map[string]interface{}{
		"original": dataset,
		"restored": json.RawMessage(restored),
	})
	if !ok {
		fmt.Println("FAILED: Verify")
		os.Exit(1)
	}
	var result struct {
		Valid   bool   `json:"valid"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(body, &result); err != nil || !result.Valid {
		fmt.Printf("FAILED: Verify\n%s\n", result.Summary)
		os.Exit(1)
	}
	fmt.Println("PASSED: Verify")
}

func sendRequest(method, endpoint string, payload interface{}) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}

	fmt.Printf("Response: %s\n", string(respBody))
	return respBody, true
}
