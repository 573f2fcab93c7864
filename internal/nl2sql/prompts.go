package nl2sql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
)

const (
	intentPromptTemplate = "请分析用户的自然语言问题，分析用户问题意图。问题如下：\n%s\n\n" +
		"可用表信息：\n%s\n\n" +
		"返回JSON：{'intent': '意图', 'tables': ['表1', '表2']}"

	sqlPromptTemplate = "您是旨在与TiDB（兼容 MySQL 5.7 的分布式数据库） 数据库交互的代理。给定一个输入问题，创建一个语法正确的 MySQL 查询。\n" +
		"除非用户指定了他们希望获取的特定数量的示例，否则请始终将查询限制为最多 5 个结果。\n" +
		"您可以按相关列对结果进行排序，以返回数据库中最相关示例。\n" +
		"永远不要查询特定表中的所有列，只询问给定问题的相关列。不要对数据库进行任何 DML 语句（INSERT、UPDATE、DELETE、DROP 等）。\n" +
		"如果问题似乎与数据库无关，只需返回 “I don't know” 作为答案。\n" +
		"特别注意：对于涉及多个表的问题，请使用 JOIN 语句来连接相关表，并确保查询语句包含所有必要的表和字段。\n" +
		"用户意图：%s\n" +
		"可能相关的业务表信息如下：\n%s\n\n" +
		"请生成一个 SQL 查询，以回答用户的问题。" +
		"返回JSON：{'sql': 'SELECT * FROM table WHERE column = value'}"

	summaryPromptTemplate = "您是一个数据库查询结果解释器。用户的问题是：%s\n\n" +
		"执行的SQL查询是：%s\n\n" +
		"查询结果为：\n%s\n\n" +
		"请用简洁明了的中文总结这些结果，以回答用户的问题。"
)

const (
	noDataText     = "无数据"
	maxSummaryRows = 50
	maxSampleValue = 200
	unknownAnswer  = "i don't know"
)

func IntentPrompt(question string, tables []catalog.TableDescriptor) string {
	return fmt.Sprintf(intentPromptTemplate, strings.TrimSpace(question), renderTableList(tables))
}

func SQLPrompt(intent string, details []catalog.TableDetail) string {
	return fmt.Sprintf(sqlPromptTemplate, strings.TrimSpace(intent), renderTableDetails(details))
}

func SummaryPrompt(question, sql string, rows []map[string]any) string {
	return fmt.Sprintf(summaryPromptTemplate, strings.TrimSpace(question), strings.TrimSpace(sql), renderRows(rows))
}

func renderTableList(tables []catalog.TableDescriptor) string {
	if len(tables) == 0 {
		return noDataText
	}
	var b strings.Builder
	for _, table := range tables {
		b.WriteString(table.Name)
		if table.Description != "" {
			b.WriteString(": ")
			b.WriteString(table.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTableDetails(details []catalog.TableDetail) string {
	if len(details) == 0 {
		return noDataText
	}
	var b strings.Builder
	for _, detail := range details {
		fmt.Fprintf(&b, "表 %s\n%s\n", detail.Name, strings.TrimSpace(detail.DDL))
		if len(detail.SampleRows) > 0 {
			b.WriteString("示例数据：\n")
			for _, row := range detail.SampleRows {
				b.WriteString(marshalCompact(clipValues(row)))
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return noDataText
	}
	truncated := false
	if len(rows) > maxSummaryRows {
		rows = rows[:maxSummaryRows]
		truncated = true
	}
	out := marshalCompact(rows)
	if truncated {
		out += fmt.Sprintf("\n（仅展示前 %d 行）", maxSummaryRows)
	}
	return out
}

func clipValues(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for key, value := range row {
		if s, ok := value.(string); ok && len([]rune(s)) > maxSampleValue {
			value = string([]rune(s)[:maxSampleValue]) + "..."
		}
		out[key] = value
	}
	return out
}

func marshalCompact(value any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprint(value)
	}
	return strings.TrimSpace(buf.String())
}
