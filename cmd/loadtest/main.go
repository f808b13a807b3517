package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status  int
	OrderNo string
	Body    string
	Err     error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	userID := flag.String("user", "", "hospital user id (X-User-ID)")
	productID := flag.String("product", "", "product id to order")
	quantity := flag.Int64("qty", 1, "quantity per order")

	// 并发下单：检查 4 位订单号不重复
	total := flag.Int("n", 200, "orders to place")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	if *userID == "" || *productID == "" {
		fmt.Fprintln(os.Stderr, "-user and -product are required")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Printf("start placement test: product=%s orders=%d concurrency=%d\n", *productID, *total, *concurrency)
	start := time.Now()
	results := runPlace(client, *baseURL, *userID, *productID, *quantity, *total, *concurrency)
	fmt.Printf("elapsed: %s\n", time.Since(start))

	printSummary("place", results)

	dups := duplicates(results)
	if len(dups) > 0 {
		fmt.Printf("DUPLICATE order numbers: %v\n", dups)
		os.Exit(1)
	}
	fmt.Println("order numbers unique")
}

func runPlace(client *http.Client, baseURL, userID, productID string, qty int64, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			body := map[string]any{
				"items":         []map[string]any{{"product": productID, "quantity": qty}},
				"address":       fmt.Sprintf("Ward %d", idx),
				"phone":         "555-0100",
				"contact_email": "loadtest@example.com",
			}
			results[idx] = placeOnce(client, baseURL, userID, body)
		}(i)
	}

	wg.Wait()
	return results
}

func placeOnce(client *http.Client, baseURL, userID string, body any) Result {
	b, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/api/orders", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-ID", userID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	res := Result{Status: resp.StatusCode, Body: string(raw)}
	if resp.StatusCode == http.StatusCreated {
		var out struct {
			Data struct {
				OrderNo string `json:"order_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &out); err == nil {
			res.OrderNo = out.Data.OrderNo
		}
	}
	return res
}

// duplicates 返回出现多次的订单号。
func duplicates(results []Result) []string {
	seen := map[string]int{}
	for _, r := range results {
		if r.OrderNo != "" {
			seen[r.OrderNo]++
		}
	}
	var out []string
	for no, n := range seen {
		if n > 1 {
			out = append(out, no)
		}
	}
	return out
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{201, 400, 401, 403, 404, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
