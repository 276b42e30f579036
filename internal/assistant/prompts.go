package assistant

import (
	"encoding/json"
	"fmt"

	"classattend/internal/attendance"
)

// Messages returned instead of calling the model.
const (
	FallbackMessage     = "Ocorreu um erro ao se comunicar com a IA. Tente novamente mais tarde."
	NotEnoughSummary    = "Ainda não há dados de presença suficientes para gerar um resumo desta turma. Continue registrando as presenças."
	NotEnoughAnalysis   = "Não há dados de presença suficientes para gerar uma análise."
	NotEnoughRisk       = "Não há dados de presença suficientes para uma análise de risco. Continue registrando as presenças."
	NotEnoughComparison = "Selecione ao menos duas turmas para realizar a comparação."
)

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func summaryPrompt(className string, data []attendance.ResolvedRecord) string {
	return fmt.Sprintf(`Você é um assistente de professor. Gere um resumo curto da situação de presença da turma.

Turma: %s

Presenças dos últimos dias:
%s

Responda em markdown simples:
1. Visão geral: uma frase sobre a tendência de presença.
2. Alunos em destaque: até 2 alunos com faltas recentes ou consecutivas; se não houver, diga que o engajamento está bom.
3. Ação sugerida: uma sugestão simples e direta.

Seja breve e foque em insights acionáveis.`, className, toJSON(data))
}

func analysisPrompt(data []attendance.ResolvedRecord) string {
	return fmt.Sprintf(`Você é um assistente educacional. Analise o histórico de presença abaixo e produza um relatório em markdown com:
1. Resumo geral: taxa de presença (presenças sobre o total de registros).
2. Alunos com mais ausências, com o total de faltas de cada um.
3. Padrões de ausência relevantes, como datas concentradas ou tendência de alta.
4. Conclusão com uma sugestão simples de ação.

Use linguagem profissional e objetiva.

Dados:
%s`, toJSON(data))
}

func riskPrompt(focus string, data []attendance.ResolvedRecord, summary []attendance.StudentSummary) string {
	return fmt.Sprintf(`Você é um analista de dados educacional. Faça uma análise de risco de desengajamento com base no histórico de faltas %s.

Registros:
%s

Totais por aluno:
%s

O relatório em markdown deve conter:
1. Alunos em risco, considerando total de faltas e faltas consecutivas.
2. Nível de risco (Baixo, Médio ou Alto) de cada um, com justificativa breve.
3. Padrões observados.
4. Recomendações para cada nível de risco.

Se o foco for um único aluno, centre a análise nele.`, focus, toJSON(data), toJSON(summary))
}

func comparisonPrompt(series []attendance.ClassSeries) string {
	return fmt.Sprintf(`Você é um analista de dados educacional. Compare a taxa de presença (%%) ao longo do tempo das turmas abaixo.

%s

O relatório em markdown deve conter:
1. Análise comparativa: qual turma tem a maior média e quais tendências de alta ou queda existem.
2. Observações chave.
3. Uma sugestão para o professor.`, toJSON(series))
}

func draftContext(kind attendance.CommunicationType) string {
	switch kind {
	case attendance.CommAbsence:
		return "O aluno tem se ausentado das aulas. Abra um canal de conversa, procure entender o motivo e ofereça ajuda. Tom empático, não punitivo."
	case attendance.CommPositive:
		return "Dê um retorno positivo parabenizando o aluno pelo desempenho. Tom encorajador."
	case attendance.CommSupport:
		return "Pergunte se o aluno tem dúvidas ou precisa de ajuda. Tom acolhedor e proativo."
	case attendance.CommCorrective:
		return "Aponte que algo está errado ou faltando em uma entrega e ofereça ajuda para corrigir. Tom de apoio, não acusatório."
	}
	return ""
}

func draftPrompt(studentName, className string, kind attendance.CommunicationType) string {
	return fmt.Sprintf(`Você é um assistente de comunicação para professores. Escreva um rascunho de e-mail para um aluno.

Aluno: %s
Turma: %s
Contexto: %s

Estrutura:
- Assunto: um título amigável ligado ao contexto.
- Corpo: saudação cordial ("Olá, %s,"), a mensagem principal, oferta de ajuda e uma despedida calorosa.

Escreva em português.`, studentName, className, draftContext(kind), studentName)
}
