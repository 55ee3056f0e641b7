// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"askto-go/internal/config"
	"askto-go/internal/model"
	"askto-go/pkg/log"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保会话索引存在。
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(client, esCfg.IndexName)
}

const sessionMapping = `{
	"mappings": {
		"properties": {
			"session_id": { "type": "keyword" },
			"durable_session_id": { "type": "keyword" },
			"identity_id": { "type": "keyword" },
			"phone_last_four": { "type": "keyword" },
			"phase": { "type": "keyword" },
			"summary": { "type": "text" },
			"outcome": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"turn_count": { "type": "integer" },
			"ended_at": { "type": "date" }
		}
	}
}`

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	created, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(sessionMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// SessionIndex 负责已结束会话的索引和检索。
type SessionIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewSessionIndex 创建一个新的 SessionIndex。
func NewSessionIndex(client *elasticsearch.Client, indexName string) *SessionIndex {
	return &SessionIndex{client: client, indexName: indexName}
}

// IndexSession 写入或覆盖一条会话文档，文档 id 为会话 id。
func (s *SessionIndex) IndexSession(ctx context.Context, doc model.SessionDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.indexName,
		DocumentID: doc.SessionID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引会话到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index session")
	}
	return nil
}

// SearchSessions 在摘要和结果中全文检索会话，query 为空时按结束时间倒序返回。
func (s *SessionIndex) SearchSessions(ctx context.Context, query string, size int) ([]model.SessionSearchHit, error) {
	if size <= 0 {
		size = 10
	}
	body := map[string]interface{}{
		"size": size,
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"ended_at": map[string]string{"order": "desc"}},
		},
	}
	if strings.TrimSpace(query) == "" {
		body["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		body["query"] = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"summary^2", "outcome"},
			},
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Score  float64               `json:"_score"`
				Source model.SessionDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 响应失败: %w", err)
	}

	hits := make([]model.SessionSearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.SessionSearchHit{SessionDocument: h.Source, Score: h.Score})
	}
	return hits, nil
}
