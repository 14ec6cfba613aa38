// Command ask sends one chat turn to a running server and prints the
// streamed answer followed by its sources.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"knowledge-assistant-be/pkg/rag/stream"

	"github.com/fatih/color"
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000/api", "API base URL")
	token := flag.String("token", os.Getenv("ASK_TOKEN"), "bearer token (defaults to $ASK_TOKEN)")
	conversation := flag.String("c", "", "conversation id to continue")
	maxResults := flag.Int("k", 0, "smart-search result ceiling (1-35)")
	flag.Parse()

	if flag.NArg() == 0 {
		color.Red("usage: ask [flags] <question>")
		os.Exit(2)
	}

	body := map[string]interface{}{"message": flag.Arg(0)}
	if *conversation != "" {
		body["conversationId"] = *conversation
	}
	if *maxResults > 0 {
		body["maxResults"] = *maxResults
	}

	if err := ask(*baseURL+"/chat/v1/stream", *token, body); err != nil {
		color.Red("\n%v", err)
		os.Exit(1)
	}
}

func ask(url, token string, body interface{}) error {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	color.Cyan("conversation %s\n", resp.Header.Get("X-Conversation-Id"))

	var buf []byte
	printed := 0
	chunk := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if upto := stream.Printable(string(buf)); upto > printed {
			fmt.Print(string(buf[printed:upto]))
			printed = upto
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	res, err := stream.ParseBody(string(buf))
	if err != nil {
		return err
	}
	fmt.Print(res.Answer[min(printed, len(res.Answer)):])
	fmt.Println()

	switch {
	case res.Error != "":
		return fmt.Errorf("stream failed: %s", res.Error)
	case res.ConversationID == "":
		return errors.New("stream ended without a trailer")
	}

	if len(res.Sources) == 0 {
		color.Yellow("no sources")
		return nil
	}
	color.Green("sources:")
	for i, src := range res.Sources {
		color.White("  [%d] %s (%.2f)", i+1, src.FileName, src.Score)
	}
	return nil
}
