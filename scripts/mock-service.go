// +build ignore

// Mock evaluation service for testing speclint against
// Run with: go run scripts/mock-service.go -port 9001
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
)

func main() {
	port := flag.Int("port", 9001, "Port to listen on")
	pending := flag.Int("pending", 1, "Pending polls before an evaluation turns ready")
	flag.Parse()

	var (
		mu      sync.Mutex
		specs   int
		ignores int
		polls   = make(map[string]int)
	)

	mux := http.NewServeMux()

	// Upload: accepts any spec payload, hands back a fresh id.
	mux.HandleFunc("POST /projects/{org}/{project}/specifications", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		specs++
		id := fmt.Sprintf("spec-%d", specs)
		mu.Unlock()

		log.Printf("upload %s/%s -> %s", r.PathValue("org"), r.PathValue("project"), id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"specification": map[string]string{"id": id},
		})
	})

	// Poll: pending for the first -pending polls, then ready with
	// canned violations.
	mux.HandleFunc("GET /projects/{org}/{project}/specifications", func(w http.ResponseWriter, r *http.Request) {
		specID := r.URL.Query().Get("specId")

		mu.Lock()
		polls[specID]++
		n := polls[specID]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n <= *pending {
			log.Printf("poll %s -> pending (%d)", specID, n)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"evaluation": map[string]string{"status": "pending", "specId": specID},
			})
			return
		}

		log.Printf("poll %s -> ready", specID)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"evaluation": map[string]string{"status": "ready", "specId": specID},
			"violations": []map[string]interface{}{
				{
					"key": map[string]string{"type": "operation_id", "operationId": "listPets"},
					"violations": []map[string]interface{}{
						{"ruleId": 101, "message": "operation names must be kebab-case", "severity": "error"},
					},
				},
				{
					"key": map[string]string{"type": "path", "path": "/pets"},
					"violations": []map[string]interface{}{
						{"ruleId": 204, "message": "missing 4xx response", "severity": "warning"},
					},
				},
			},
			"ruleIdToSlug": map[string]string{
				"101": "operation-naming",
				"204": "missing-client-error",
			},
		})
	})

	ignoreHandler := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ignores++
		id := fmt.Sprintf("ign-%d", ignores)
		mu.Unlock()

		log.Printf("ignore %s -> %s", r.URL.Path, id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
	mux.HandleFunc("POST /projects/{org}/{project}/rules/{rule}/ignores", ignoreHandler)
	mux.HandleFunc("POST /projects/{org}/{project}/ignores", ignoreHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock evaluation service starting on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
